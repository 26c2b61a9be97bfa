// config.go - queue configuration, loadable from YAML.

package cmdq

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Config carries the tunables left to the implementer (save-slot
// count, stuck-ring escalation) plus the sizes that determine ring and
// block memory footprint. Byte-sized fields accept human-readable values
// ("16KB", "1MB") via datasize.ByteSize.
type Config struct {
	// RingWords is the word capacity of each half of a double-buffered
	// ring (low-priority and, separately, high-priority).
	RingWords uint32 `yaml:"ring_words"`

	// RingSentinelMargin reserves this many trailing words of a ring
	// buffer so the largest legal command can never straddle the
	// buffer's end; the sentinel offset is RingWords-RingSentinelMargin.
	RingSentinelMargin uint32 `yaml:"ring_sentinel_margin"`

	// MaxCommandWords is the command-size ceiling.
	MaxCommandWords uint32 `yaml:"max_command_words"`

	// BlockMinChunk and BlockMaxChunk bound the Block Recorder's growable
	// chunk chain, in bytes: the first chunk is BlockMinChunk/4 words, each
	// overflow doubles up to BlockMaxChunk/4 words.
	BlockMinChunk datasize.ByteSize `yaml:"block_min_chunk"`
	BlockMaxChunk datasize.ByteSize `yaml:"block_max_chunk"`

	// MaxNestingLevel bounds block call nesting.
	MaxNestingLevel int `yaml:"max_nesting_level"`

	// CallSaveSlots is the number of CALL/RET save slots. It defaults to
	// MaxNestingLevel and must be at least that: one slot per nesting
	// level, since RET always restores the slot the matching CALL used.
	CallSaveSlots int `yaml:"call_save_slots"`

	// SwapSlots is the number of SWAP_BUFFERS save slots: one for the
	// low-priority position, one for the high-priority start position.
	SwapSlots int `yaml:"swap_slots"`

	// OverlaySlots is the dispatch table capacity in 16-command slots.
	OverlaySlots int `yaml:"overlay_slots"`

	// RingStuckImpatience bounds the Ring Writer's rotation spin-wait.
	// Past this many poll iterations cmdq logs a diagnostic dump and
	// returns ErrRingStuck rather than spinning forever.
	RingStuckImpatience int `yaml:"ring_stuck_impatience"`

	// SyncpointWaitImpatience bounds syncpoint_wait's poll loop before it
	// triggers a diagnostic dump.
	SyncpointWaitImpatience int `yaml:"syncpoint_wait_impatience"`
}

// DefaultConfig returns the configuration cmdq uses when none is supplied.
func DefaultConfig() Config {
	return Config{
		RingWords:               4096,
		RingSentinelMargin:      32,
		MaxCommandWords:         32,
		BlockMinChunk:           64 * 4 * datasize.B, // 64 words
		BlockMaxChunk:           4096 * 4 * datasize.B,
		MaxNestingLevel:         8,
		CallSaveSlots:           8,
		SwapSlots:               2,
		OverlaySlots:            16,
		RingStuckImpatience:     100_000,
		SyncpointWaitImpatience: 100_000,
	}
}

// LoadConfig reads a YAML configuration file, starting from DefaultConfig
// so an omitted field keeps its default rather than zeroing out.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cmdq: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("cmdq: parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("cmdq: invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the invariants the rest of cmdq assumes hold.
func (c Config) Validate() error {
	if c.RingWords == 0 || c.RingSentinelMargin*2 > c.RingWords {
		return fmt.Errorf("ring_sentinel_margin must leave room for a sentinel past itself")
	}
	if c.MaxCommandWords == 0 || c.MaxCommandWords > c.RingSentinelMargin {
		return fmt.Errorf("max_command_words must be > 0 and <= ring_sentinel_margin")
	}
	if c.MaxNestingLevel <= 0 || c.CallSaveSlots < c.MaxNestingLevel {
		return fmt.Errorf("call_save_slots must be >= max_nesting_level")
	}
	if c.SwapSlots < 2 {
		return fmt.Errorf("swap_slots must be >= 2")
	}
	if c.OverlaySlots <= 0 {
		return fmt.Errorf("overlay_slots must be > 0")
	}
	blockMinWords := uint32(c.BlockMinChunk / 4)
	blockMaxWords := uint32(c.BlockMaxChunk / 4)
	if blockMinWords == 0 || blockMaxWords < blockMinWords {
		return fmt.Errorf("block_max_chunk must be >= block_min_chunk")
	}
	return nil
}
