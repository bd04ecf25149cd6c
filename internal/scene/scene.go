package scene

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/spf13/viper"

	"github.com/interactionlab/tandem/internal/domain/model"
	"github.com/interactionlab/tandem/internal/domain/state"
)

// Scene is the metadata surface the coordinator consumes per content unit.
// Everything about the content itself (game, assets, sequencing) lives in
// the clients; the coordinator only reads matching and messaging knobs.
type Scene struct {
	ID        model.SceneID `mapstructure:"id"`
	GroupSize int           `mapstructure:"group_size"`

	Matchmaker MatchmakerSpec `mapstructure:"matchmaker"`

	// MaxServerRTTSumMs pre-filters the waiting list before matching; nil
	// disables the filter.
	MaxServerRTTSumMs *float64 `mapstructure:"max_server_rtt_sum_ms"`
	// MaxP2PRTTMs gates the probe; nil skips probing entirely.
	MaxP2PRTTMs *float64 `mapstructure:"max_p2p_rtt_ms"`

	// WaitroomTimeoutMs bounces unmatched participants back to IDLE after
	// this long in queue; 0 disables.
	WaitroomTimeoutMs int `mapstructure:"waitroom_timeout_ms"`

	// Messages maps termination reasons to researcher-authored participant
	// facing strings. The server never synthesizes its own.
	Messages map[string]string `mapstructure:"messages"`

	NextSceneID model.SceneID `mapstructure:"next_scene_id"`
}

// MatchmakerSpec selects and parameterizes the scene's matchmaker.
type MatchmakerSpec struct {
	Name   string         `mapstructure:"name"`
	Params map[string]any `mapstructure:"params"`
}

// MessageFor returns the configured participant-facing string for a
// termination reason, or empty when the researcher authored none.
func (s Scene) MessageFor(reason state.TerminationReason) string {
	return s.Messages[string(reason)]
}

// defaultScene backs unknown scene ids when no scenes file is configured,
// so bare deployments and tests can pair participants without authoring.
func defaultScene(id model.SceneID) Scene {
	return Scene{
		ID:         id,
		GroupSize:  2,
		Matchmaker: MatchmakerSpec{Name: "fifo"},
	}
}

// Store holds the active scene table. Lookups take a read lock; reloads
// swap the whole table at once so a reload is atomic from readers' view.
type Store struct {
	logger *slog.Logger

	mu     sync.RWMutex
	scenes map[model.SceneID]Scene
	strict bool // a scenes file is authoritative; unknown ids are rejected
}

// NewStore builds an empty permissive store; Load makes it strict.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		logger: logger.With(slog.String("component", "scene_store")),
		scenes: make(map[model.SceneID]Scene),
	}
}

// Get resolves a scene id. In permissive mode (no file) unknown ids get
// the built-in pair/FIFO default.
func (st *Store) Get(id model.SceneID) (Scene, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if sc, ok := st.scenes[id]; ok {
		return sc, true
	}
	if !st.strict {
		return defaultScene(id), true
	}
	return Scene{}, false
}

// Len reports how many scenes are loaded.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.scenes)
}

// Load reads the scenes file and swaps the table. On any error the previous
// table stays active.
func (st *Store) Load(path string) error {
	table, err := readScenesFile(path)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.scenes = table
	st.strict = true
	st.mu.Unlock()

	st.logger.Info("scenes loaded",
		slog.String("path", path),
		slog.Int("count", len(table)))
	return nil
}

func readScenesFile(path string) (map[model.SceneID]Scene, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read scenes %q: %w", path, err)
	}

	var raw struct {
		Scenes []Scene `mapstructure:"scenes"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("decode scenes %q: %w", path, err)
	}

	table := make(map[model.SceneID]Scene, len(raw.Scenes))
	for _, sc := range raw.Scenes {
		if err := validate(sc); err != nil {
			return nil, fmt.Errorf("scene %q: %w", sc.ID, err)
		}
		if _, dup := table[sc.ID]; dup {
			return nil, fmt.Errorf("scene %q: duplicate id", sc.ID)
		}
		table[sc.ID] = sc
	}
	return table, nil
}

func validate(sc Scene) error {
	if sc.ID == "" {
		return fmt.Errorf("missing id")
	}
	if sc.GroupSize < 2 {
		return fmt.Errorf("group_size %d below 2", sc.GroupSize)
	}
	if sc.Matchmaker.Name == "" {
		return fmt.Errorf("missing matchmaker.name")
	}
	if sc.MaxP2PRTTMs != nil && *sc.MaxP2PRTTMs <= 0 {
		return fmt.Errorf("max_p2p_rtt_ms must be positive")
	}
	if sc.MaxServerRTTSumMs != nil && *sc.MaxServerRTTSumMs <= 0 {
		return fmt.Errorf("max_server_rtt_sum_ms must be positive")
	}
	if sc.WaitroomTimeoutMs < 0 {
		return fmt.Errorf("waitroom_timeout_ms must not be negative")
	}
	return nil
}
