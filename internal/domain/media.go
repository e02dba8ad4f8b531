package domain

// StageName identifies one pipeline stage.
type StageName string

const (
	StageAudioParser        StageName = "audio_parser"
	StageScenePlanner       StageName = "scene_planner"
	StageReferenceGenerator StageName = "reference_generator"
	StagePromptGenerator    StageName = "prompt_generator"
	StageVideoGenerator     StageName = "video_generator"
	StageComposer           StageName = "composer"
)

// AudioAnalysis is the first-stage output: tempo, beat grid, song structure
// and suggested clip boundaries, all derived from the uploaded audio.
type AudioAnalysis struct {
	Duration       float64              `json:"duration"`
	BPM            float64              `json:"bpm"`
	BeatTimestamps []float64            `json:"beat_timestamps"`
	Structure      map[string][]float64 `json:"structure"`
	Mood           string               `json:"mood"`
	Lyrics         []string             `json:"lyrics"`
	ClipBoundaries []float64            `json:"clip_boundaries"`
}

type Character struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type SceneSetting struct {
	Location    string `json:"location"`
	Description string `json:"description"`
}

type VisualStyle struct {
	ArtStyle     string `json:"art_style"`
	ColorPalette string `json:"color_palette"`
}

type ClipScript struct {
	ClipIndex   int    `json:"clip_index"`
	Description string `json:"description"`
}

type Transition struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

// ScenePlan is the second-stage output: the creative blueprint every later
// stage works from.
type ScenePlan struct {
	Characters  []Character    `json:"characters"`
	Scenes      []SceneSetting `json:"scenes"`
	Style       VisualStyle    `json:"style"`
	ClipScripts []ClipScript   `json:"clip_scripts"`
	Transitions []Transition   `json:"transitions"`
}

type ReferenceImage struct {
	CharacterName string `json:"character_name"`
	ImageURL      string `json:"image_url"`
}

// References carries character reference imagery. A nil *References is a
// valid downstream input when the synthesis stage degraded.
type References struct {
	Images []ReferenceImage `json:"reference_images"`
}

type ClipPrompt struct {
	ClipIndex int    `json:"clip_index"`
	Prompt    string `json:"prompt"`
}

type ClipPrompts struct {
	Prompts []ClipPrompt `json:"prompts"`
}

type Clip struct {
	ClipIndex int     `json:"clip_index"`
	VideoURL  string  `json:"video_url"`
	Duration  float64 `json:"duration"`
}

// Clips is the fifth-stage output; fewer than MinClips clips fails the run.
type Clips struct {
	Clips []Clip `json:"clips"`
}

// MinClips is the smallest clip count the composition stage accepts.
const MinClips = 3

// VideoOutput is the final composed artifact.
type VideoOutput struct {
	VideoURL string  `json:"video_url"`
	Duration float64 `json:"duration"`
}

// PipelineExecutor invokes the external media-processing stages. The control
// plane treats each call as a black box with typed inputs and outputs;
// transport, retries and caching live behind this interface. fileHash is the
// content hash computed at upload and keys the 24-hour analysis cache.
type PipelineExecutor interface {
	AnalyzeAudio(ctx Context, jobID, audioURL, fileHash string) (AudioAnalysis, error)
	PlanScenes(ctx Context, jobID string, analysis AudioAnalysis, userPrompt string) (ScenePlan, error)
	GenerateReferences(ctx Context, jobID string, plan ScenePlan) (References, error)
	GeneratePrompts(ctx Context, jobID string, plan ScenePlan, refs *References) (ClipPrompts, error)
	GenerateClips(ctx Context, jobID string, prompts ClipPrompts) (Clips, error)
	Compose(ctx Context, jobID string, clips Clips, audioURL string, transitions []Transition, beats []float64) (VideoOutput, error)
}
