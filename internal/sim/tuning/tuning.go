package tuning

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const DefaultSeed Seed = 0xDEADBEEFCAFEBABE

type Tuning struct {
	SimHz            uint32 `yaml:"sim_hz"`
	MaxStepsPerFrame int    `yaml:"max_steps_per_frame"`
	Seed             Seed   `yaml:"seed"`

	HashEveryTicks uint64 `yaml:"hash_every_ticks"`
	HashDebug      bool   `yaml:"hash_debug"`

	MoveSpeed       float32 `yaml:"move_speed"`
	ArrivalDistance float32 `yaml:"arrival_distance"`
	HungerEveryMs   uint32  `yaml:"hunger_every_ms"`
	HungerThreshold uint8   `yaml:"hunger_threshold"`

	Spawn      Spawn      `yaml:"spawn"`
	AgentStart [2]float32 `yaml:"agent_start"`
}

type Spawn struct {
	Food  int `yaml:"food"`
	Wood  int `yaml:"wood"`
	Stone int `yaml:"stone"`
	// Resources land on integer cells in [AreaMin, AreaMax) offset by half a cell.
	AreaMin int `yaml:"area_min"`
	AreaMax int `yaml:"area_max"`
}

// Seed accepts decimal or 0x-prefixed hex in YAML.
type Seed uint64

func ParseSeed(s string) (Seed, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("seed %q: %w", s, err)
	}
	return Seed(v), nil
}

func (s Seed) String() string { return fmt.Sprintf("%#x", uint64(s)) }

func (s *Seed) UnmarshalYAML(n *yaml.Node) error {
	v, err := ParseSeed(n.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s Seed) MarshalYAML() (any, error) { return s.String(), nil }

// Set makes *Seed usable as a flag.Value.
func (s *Seed) Set(v string) error {
	p, err := ParseSeed(v)
	if err != nil {
		return err
	}
	*s = p
	return nil
}

func Defaults() Tuning {
	return Tuning{
		SimHz:            60,
		MaxStepsPerFrame: 8,
		Seed:             DefaultSeed,
		HashEveryTicks:   600,
		MoveSpeed:        0.07,
		ArrivalDistance:  0.01,
		HungerEveryMs:    1000,
		HungerThreshold:  3,
		Spawn: Spawn{
			Food:    6,
			Wood:    3,
			Stone:   3,
			AreaMin: 2,
			AreaMax: 10,
		},
		AgentStart: [2]float32{1.5, 1.5},
	}
}

// Load reads a tuning file on top of Defaults, so omitted keys keep their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.SimHz == 0 {
		errs = append(errs, errors.New("sim_hz must be > 0"))
	}
	if t.MaxStepsPerFrame < 1 {
		errs = append(errs, errors.New("max_steps_per_frame must be >= 1"))
	}
	if t.MoveSpeed <= 0 {
		errs = append(errs, errors.New("move_speed must be > 0"))
	}
	if t.ArrivalDistance < 0 {
		errs = append(errs, errors.New("arrival_distance must be >= 0"))
	}
	if t.HungerEveryMs == 0 {
		errs = append(errs, errors.New("hunger_every_ms must be > 0"))
	}
	if t.Spawn.Food < 0 || t.Spawn.Wood < 0 || t.Spawn.Stone < 0 {
		errs = append(errs, errors.New("spawn counts must be >= 0"))
	}
	if t.Spawn.AreaMax < t.Spawn.AreaMin {
		errs = append(errs, errors.New("spawn.area_max must be >= spawn.area_min"))
	}
	return errors.Join(errs...)
}
