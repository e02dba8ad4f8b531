// Package stub is a fast, deterministic pipeline executor for development and
// tests. Outputs are synthesized from embedded fixtures; each call sleeps a
// short fixture latency and reports the fixture charge to the cost sink.
package stub

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/videogen/internal/adapter/stages"
	"github.com/fairyhunter13/videogen/internal/domain"
)

//go:embed fixtures.yaml
var fixturesYAML []byte

type stageCharge struct {
	API  string  `yaml:"api"`
	Cost float64 `yaml:"cost"`
}

type analysisFixture struct {
	Duration     float64              `yaml:"duration"`
	BPM          float64              `yaml:"bpm"`
	Mood         string               `yaml:"mood"`
	BeatInterval float64              `yaml:"beat_interval"`
	ClipSeconds  float64              `yaml:"clip_seconds"`
	Structure    map[string][]float64 `yaml:"structure"`
	Lyrics       []string             `yaml:"lyrics"`
}

type fixtures struct {
	LatencyMS  int                    `yaml:"latency_ms"`
	Costs      map[string]stageCharge `yaml:"costs"`
	Analysis   analysisFixture        `yaml:"analysis"`
	Characters []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"characters"`
	Scenes []struct {
		Location    string `yaml:"location"`
		Description string `yaml:"description"`
	} `yaml:"scenes"`
	Style struct {
		ArtStyle     string `yaml:"art_style"`
		ColorPalette string `yaml:"color_palette"`
	} `yaml:"style"`
	ClipCount int    `yaml:"clip_count"`
	BaseURL   string `yaml:"base_url"`
}

// Executor implements domain.PipelineExecutor from embedded fixtures.
type Executor struct {
	fx      fixtures
	sink    stages.CostSink
	latency time.Duration
}

// New parses the embedded fixtures. A nil sink drops charges, which is only
// acceptable in tests that do not assert on cost state.
func New(sink stages.CostSink) (*Executor, error) {
	var fx fixtures
	if err := yaml.Unmarshal(fixturesYAML, &fx); err != nil {
		return nil, fmt.Errorf("op=stub.New: %w: %v", domain.ErrConfig, err)
	}
	return &Executor{
		fx:      fx,
		sink:    sink,
		latency: time.Duration(fx.LatencyMS) * time.Millisecond,
	}, nil
}

func (e *Executor) simulate(ctx context.Context) error {
	if e.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(e.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Executor) charge(ctx context.Context, jobID string, stage domain.StageName) error {
	if e.sink == nil {
		return nil
	}
	fee, ok := e.fx.Costs[string(stage)]
	if !ok {
		return nil
	}
	if _, err := e.sink.TrackCost(ctx, jobID, stage, fee.API, fee.Cost); err != nil {
		return fmt.Errorf("op=stub.charge: %w", err)
	}
	return nil
}

func (e *Executor) AnalyzeAudio(ctx context.Context, jobID, _, _ string) (domain.AudioAnalysis, error) {
	if err := e.simulate(ctx); err != nil {
		return domain.AudioAnalysis{}, err
	}

	fx := e.fx.Analysis
	beats := make([]float64, 0, int(fx.Duration/fx.BeatInterval)+1)
	for i := 0; float64(i)*fx.BeatInterval < fx.Duration; i++ {
		beats = append(beats, float64(i)*fx.BeatInterval)
	}
	boundaries := make([]float64, 0, int(fx.Duration/fx.ClipSeconds)+2)
	for i := 0; float64(i)*fx.ClipSeconds < fx.Duration; i++ {
		boundaries = append(boundaries, float64(i)*fx.ClipSeconds)
	}
	boundaries = append(boundaries, fx.Duration)

	analysis := domain.AudioAnalysis{
		Duration:       fx.Duration,
		BPM:            fx.BPM,
		BeatTimestamps: beats,
		Structure:      fx.Structure,
		Mood:           fx.Mood,
		Lyrics:         fx.Lyrics,
		ClipBoundaries: boundaries,
	}
	if err := e.charge(ctx, jobID, domain.StageAudioParser); err != nil {
		return domain.AudioAnalysis{}, err
	}
	return analysis, nil
}

func (e *Executor) PlanScenes(ctx context.Context, jobID string, _ domain.AudioAnalysis, userPrompt string) (domain.ScenePlan, error) {
	if err := e.simulate(ctx); err != nil {
		return domain.ScenePlan{}, err
	}

	plan := domain.ScenePlan{
		Style: domain.VisualStyle{
			ArtStyle:     e.fx.Style.ArtStyle,
			ColorPalette: e.fx.Style.ColorPalette,
		},
	}
	for _, ch := range e.fx.Characters {
		plan.Characters = append(plan.Characters, domain.Character{Name: ch.Name, Description: ch.Description})
	}
	for _, sc := range e.fx.Scenes {
		plan.Scenes = append(plan.Scenes, domain.SceneSetting{Location: sc.Location, Description: sc.Description})
	}

	snippet := promptSnippet(userPrompt)
	for i := 0; i < e.fx.ClipCount; i++ {
		scene := e.fx.Scenes[i%len(e.fx.Scenes)]
		plan.ClipScripts = append(plan.ClipScripts, domain.ClipScript{
			ClipIndex:   i,
			Description: fmt.Sprintf("Clip %d: %s, staged in %s", i+1, snippet, scene.Location),
		})
	}
	kinds := []string{"cut", "fade", "dissolve"}
	for i := 1; i < e.fx.ClipCount; i++ {
		plan.Transitions = append(plan.Transitions, domain.Transition{
			Type:      kinds[(i-1)%len(kinds)],
			Timestamp: float64(i) * e.fx.Analysis.ClipSeconds,
		})
	}

	if err := e.charge(ctx, jobID, domain.StageScenePlanner); err != nil {
		return domain.ScenePlan{}, err
	}
	return plan, nil
}

func (e *Executor) GenerateReferences(ctx context.Context, jobID string, plan domain.ScenePlan) (domain.References, error) {
	if err := e.simulate(ctx); err != nil {
		return domain.References{}, err
	}

	var refs domain.References
	for _, ch := range plan.Characters {
		slug := strings.ToLower(strings.ReplaceAll(ch.Name, " ", "-"))
		refs.Images = append(refs.Images, domain.ReferenceImage{
			CharacterName: ch.Name,
			ImageURL:      fmt.Sprintf("%s/refs/%s/%s.png", e.fx.BaseURL, jobID, slug),
		})
	}
	if err := e.charge(ctx, jobID, domain.StageReferenceGenerator); err != nil {
		return domain.References{}, err
	}
	return refs, nil
}

func (e *Executor) GeneratePrompts(ctx context.Context, jobID string, plan domain.ScenePlan, refs *domain.References) (domain.ClipPrompts, error) {
	if err := e.simulate(ctx); err != nil {
		return domain.ClipPrompts{}, err
	}

	var out domain.ClipPrompts
	for _, script := range plan.ClipScripts {
		prompt := fmt.Sprintf("%s, %s, palette %s", script.Description, plan.Style.ArtStyle, plan.Style.ColorPalette)
		if refs != nil && len(refs.Images) > 0 {
			prompt += ", consistent with character references"
		}
		out.Prompts = append(out.Prompts, domain.ClipPrompt{ClipIndex: script.ClipIndex, Prompt: prompt})
	}
	if err := e.charge(ctx, jobID, domain.StagePromptGenerator); err != nil {
		return domain.ClipPrompts{}, err
	}
	return out, nil
}

func (e *Executor) GenerateClips(ctx context.Context, jobID string, prompts domain.ClipPrompts) (domain.Clips, error) {
	if err := e.simulate(ctx); err != nil {
		return domain.Clips{}, err
	}

	var clips domain.Clips
	for _, p := range prompts.Prompts {
		clips.Clips = append(clips.Clips, domain.Clip{
			ClipIndex: p.ClipIndex,
			VideoURL:  fmt.Sprintf("%s/clips/%s/%d.mp4", e.fx.BaseURL, jobID, p.ClipIndex),
			Duration:  e.fx.Analysis.ClipSeconds,
		})
	}
	if err := e.charge(ctx, jobID, domain.StageVideoGenerator); err != nil {
		return domain.Clips{}, err
	}
	return clips, nil
}

func (e *Executor) Compose(ctx context.Context, jobID string, clips domain.Clips, _ string, _ []domain.Transition, _ []float64) (domain.VideoOutput, error) {
	if err := e.simulate(ctx); err != nil {
		return domain.VideoOutput{}, err
	}

	var total float64
	for _, c := range clips.Clips {
		total += c.Duration
	}
	out := domain.VideoOutput{
		VideoURL: fmt.Sprintf("%s/video-outputs/%s/final_video.mp4", e.fx.BaseURL, jobID),
		Duration: total,
	}
	if err := e.charge(ctx, jobID, domain.StageComposer); err != nil {
		return domain.VideoOutput{}, err
	}
	return out, nil
}

func promptSnippet(userPrompt string) string {
	s := strings.Join(strings.Fields(userPrompt), " ")
	runes := []rune(s)
	if len(runes) > 80 {
		return string(runes[:80])
	}
	return s
}
