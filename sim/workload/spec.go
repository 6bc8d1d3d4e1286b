package workload

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/aoi-sim/aoi-sim/sim"
)

// DefaultSlotUs is the slot length of numerology 0.
const DefaultSlotUs = 1000

// TrafficSpec is the top-level scenario configuration: the cell, the link stand-in and
// the UE groups that generate traffic.
// Loaded from YAML or TOML via LoadTrafficSpec(path).
type TrafficSpec struct {
	Version string      `yaml:"version" toml:"version"`
	Seed    int64       `yaml:"seed" toml:"seed"`
	SlotUs  int64       `yaml:"slot_us,omitempty" toml:"slot_us"` // 0 = DefaultSlotUs
	Cell    CellSpec    `yaml:"cell" toml:"cell"`
	Link    LinkSpec    `yaml:"link" toml:"link"`
	Groups  []GroupSpec `yaml:"groups" toml:"groups"`
}

// CellSpec overrides sim.SimConfig. Nil fields keep the value they are applied to.
type CellSpec struct {
	Horizon        *int64   `yaml:"horizon,omitempty" toml:"horizon"`
	ResourceUnits  *int64   `yaml:"resource_units,omitempty" toml:"resource_units"`
	Directions     []string `yaml:"directions,omitempty" toml:"directions"`
	DecisionPeriod *int64   `yaml:"decision_period,omitempty" toml:"decision_period"`
	CqiPeriod      *int64   `yaml:"cqi_period,omitempty" toml:"cqi_period"`
	BsrDelay       *int64   `yaml:"bsr_delay,omitempty" toml:"bsr_delay"`
	K1             *int64   `yaml:"k1,omitempty" toml:"k1"`
	K2             *int64   `yaml:"k2,omitempty" toml:"k2"`
}

// LinkSpec configures the stochastic link.
type LinkSpec struct {
	Bler *float64 `yaml:"bler,omitempty" toml:"bler"` // block error rate at good CQI; nil = DefaultBler
}

// GroupSpec describes Count identical UEs.
type GroupSpec struct {
	ID       string        `yaml:"id" toml:"id"`
	Count    int           `yaml:"count" toml:"count"`
	Mobility string        `yaml:"mobility,omitempty" toml:"mobility"` // static (default), pedestrian, vehicular
	AttachMs float64       `yaml:"attach_ms,omitempty" toml:"attach_ms"`
	DetachMs float64       `yaml:"detach_ms,omitempty" toml:"detach_ms"` // 0 = stays attached
	Start    *DistSpec     `yaml:"start,omitempty" toml:"start"`         // delay of the first packet after attach, ms
	Packets  int           `yaml:"packets,omitempty" toml:"packets"`     // per channel; 0 = until the horizon
	Cqi      *CqiSpec      `yaml:"cqi,omitempty" toml:"cqi"`             // nil = mobility default
	Channels []ChannelSpec `yaml:"channels" toml:"channels"`
}

// ChannelSpec describes one logical channel and the traffic it carries.
type ChannelSpec struct {
	ID           uint8       `yaml:"id" toml:"id"`
	Direction    string      `yaml:"direction" toml:"direction"`
	Group        uint8       `yaml:"group" toml:"group"`
	Priority     uint8       `yaml:"priority" toml:"priority"`
	TrafficClass uint8       `yaml:"traffic_class,omitempty" toml:"traffic_class"`
	Arrival      ArrivalSpec `yaml:"arrival" toml:"arrival"`
	Size         DistSpec    `yaml:"size" toml:"size"` // packet size, bytes
}

// ArrivalSpec configures the inter-arrival process of a channel.
//
// "interval" redraws the gap from Interval for every packet, which is how periodic
// sensors with jittered periods behave. The other processes are renewal processes with
// mean MeanMs.
type ArrivalSpec struct {
	Process  string    `yaml:"process" toml:"process"`
	Interval *DistSpec `yaml:"interval,omitempty" toml:"interval"` // ms
	MeanMs   float64   `yaml:"mean_ms,omitempty" toml:"mean_ms"`
	CV       *float64  `yaml:"cv,omitempty" toml:"cv"`
}

// DistSpec parameterizes a value distribution.
type DistSpec struct {
	Type   string             `yaml:"type" toml:"type"`
	Params map[string]float64 `yaml:"params,omitempty" toml:"params"`
}

// CqiSpec configures the CQI random walk of a UE.
type CqiSpec struct {
	Initial uint8   `yaml:"initial,omitempty" toml:"initial"` // 0 = uniform in [Min,Max]
	Min     uint8   `yaml:"min" toml:"min"`
	Max     uint8   `yaml:"max" toml:"max"`
	Step    float64 `yaml:"step" toml:"step"` // probability of a ±1 move per report
}

// Valid value registries.
var (
	validArrivalProcesses = map[string]bool{
		"interval": true, "poisson": true, "gamma": true, "weibull": true,
	}
	validDistTypes = map[string]bool{
		"uniform": true, "gaussian": true, "exponential": true, "constant": true,
	}
	validMobility = map[string]bool{
		"": true, "static": true, "pedestrian": true, "vehicular": true,
	}
)

// mobilityCqi is the CQI walk of each mobility class. Faster UEs see wider swings.
var mobilityCqi = map[string]CqiSpec{
	"static":     {Min: 9, Max: 15, Step: 0.05},
	"pedestrian": {Min: 6, Max: 15, Step: 0.2},
	"vehicular":  {Min: 2, Max: 15, Step: 0.5},
}

// CqiFor returns the group's CQI walk, falling back to the mobility default.
func (g *GroupSpec) CqiFor() CqiSpec {
	if g.Cqi != nil {
		return *g.Cqi
	}
	if g.Mobility == "" {
		return mobilityCqi["static"]
	}
	return mobilityCqi[g.Mobility]
}

// LoadTrafficSpec reads a scenario file. Files ending in .toml are decoded as TOML,
// anything else as YAML. Both decoders reject unknown keys.
func LoadTrafficSpec(path string) (*TrafficSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading traffic spec: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTrafficTOML(data)
	}
	return ParseTrafficYAML(data)
}

// ParseTrafficYAML parses YAML bytes into a TrafficSpec.
func ParseTrafficYAML(data []byte) (*TrafficSpec, error) {
	var spec TrafficSpec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing traffic spec: %w", err)
	}
	return &spec, nil
}

// ParseTrafficTOML parses TOML bytes into a TrafficSpec.
func ParseTrafficTOML(data []byte) (*TrafficSpec, error) {
	var spec TrafficSpec
	md, err := toml.Decode(string(data), &spec)
	if err != nil {
		return nil, fmt.Errorf("parsing traffic spec: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("parsing traffic spec: unknown keys %s", strings.Join(keys, ", "))
	}
	return &spec, nil
}

// SlotDurationUs returns the slot length, applying the default.
func (s *TrafficSpec) SlotDurationUs() int64 {
	if s.SlotUs <= 0 {
		return DefaultSlotUs
	}
	return s.SlotUs
}

// UeCount is the number of UEs the spec attaches.
func (s *TrafficSpec) UeCount() int {
	n := 0
	for _, g := range s.Groups {
		n += g.Count
	}
	return n
}

// Validate checks that all fields in the spec are valid.
func (s *TrafficSpec) Validate() error {
	if s.SlotUs < 0 {
		return fmt.Errorf("slot_us must be non-negative, got %d", s.SlotUs)
	}
	if err := s.Cell.validate(); err != nil {
		return err
	}
	if b := s.Link.Bler; b != nil && (math.IsNaN(*b) || *b < 0 || *b >= 1) {
		return fmt.Errorf("link.bler must be in [0,1), got %f", *b)
	}
	if len(s.Groups) == 0 {
		return fmt.Errorf("at least one ue group required")
	}
	if n := s.UeCount(); n > math.MaxUint16-1 {
		return fmt.Errorf("%d ues exceed the rnti space", n)
	}
	ids := make(map[string]bool, len(s.Groups))
	for i := range s.Groups {
		g := &s.Groups[i]
		if g.ID != "" && ids[g.ID] {
			return fmt.Errorf("group[%d]: duplicate id %q", i, g.ID)
		}
		ids[g.ID] = true
		if err := validateGroup(g, i); err != nil {
			return err
		}
	}
	return nil
}

func (c *CellSpec) validate() error {
	for _, d := range c.Directions {
		if _, err := sim.ParseDirection(d); err != nil {
			return fmt.Errorf("cell.directions: %w", err)
		}
	}
	return nil
}

// ApplyTo overrides the fields of cfg that the cell section sets.
func (c *CellSpec) ApplyTo(cfg *sim.SimConfig) error {
	setInt(&cfg.Horizon, c.Horizon)
	setInt(&cfg.ResourceUnits, c.ResourceUnits)
	setInt(&cfg.DecisionPeriod, c.DecisionPeriod)
	setInt(&cfg.CqiPeriod, c.CqiPeriod)
	setInt(&cfg.BsrDelay, c.BsrDelay)
	setInt(&cfg.K1, c.K1)
	setInt(&cfg.K2, c.K2)
	if len(c.Directions) > 0 {
		dirs := make([]sim.Direction, 0, len(c.Directions))
		for _, name := range c.Directions {
			d, err := sim.ParseDirection(name)
			if err != nil {
				return fmt.Errorf("cell.directions: %w", err)
			}
			dirs = append(dirs, d)
		}
		cfg.Directions = dirs
	}
	return nil
}

func setInt(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}

func validateGroup(g *GroupSpec, idx int) error {
	prefix := fmt.Sprintf("group[%d]", idx)
	if g.Count <= 0 {
		return fmt.Errorf("%s: count must be positive, got %d", prefix, g.Count)
	}
	if !validMobility[g.Mobility] {
		return fmt.Errorf("%s: unknown mobility %q; valid: static, pedestrian, vehicular", prefix, g.Mobility)
	}
	if g.AttachMs < 0 || math.IsNaN(g.AttachMs) {
		return fmt.Errorf("%s: attach_ms must be non-negative, got %f", prefix, g.AttachMs)
	}
	if g.DetachMs != 0 && !(g.DetachMs > g.AttachMs) {
		return fmt.Errorf("%s: detach_ms %f must be after attach_ms %f", prefix, g.DetachMs, g.AttachMs)
	}
	if g.Packets < 0 {
		return fmt.Errorf("%s: packets must be non-negative, got %d", prefix, g.Packets)
	}
	if g.Start != nil {
		if err := validateDistSpec(prefix+".start", g.Start); err != nil {
			return err
		}
	}
	cqi := g.CqiFor()
	if cqi.Min > cqi.Max || cqi.Max > sim.MaxCqi {
		return fmt.Errorf("%s.cqi: need min <= max <= %d, got [%d,%d]", prefix, sim.MaxCqi, cqi.Min, cqi.Max)
	}
	if cqi.Initial != 0 && (cqi.Initial < cqi.Min || cqi.Initial > cqi.Max) {
		return fmt.Errorf("%s.cqi: initial %d outside [%d,%d]", prefix, cqi.Initial, cqi.Min, cqi.Max)
	}
	if math.IsNaN(cqi.Step) || cqi.Step < 0 || cqi.Step > 1 {
		return fmt.Errorf("%s.cqi: step must be in [0,1], got %f", prefix, cqi.Step)
	}
	if len(g.Channels) == 0 {
		return fmt.Errorf("%s: at least one channel required", prefix)
	}
	type chanKey struct {
		dir sim.Direction
		id  uint8
	}
	seen := make(map[chanKey]bool, len(g.Channels))
	for j := range g.Channels {
		c := &g.Channels[j]
		cp := fmt.Sprintf("%s.channel[%d]", prefix, j)
		dir, err := sim.ParseDirection(c.Direction)
		if err != nil {
			return fmt.Errorf("%s: %w", cp, err)
		}
		if seen[chanKey{dir, c.ID}] {
			return fmt.Errorf("%s: duplicate %s channel %d", cp, dir, c.ID)
		}
		seen[chanKey{dir, c.ID}] = true
		if err := validateArrival(cp+".arrival", &c.Arrival); err != nil {
			return err
		}
		if err := validateDistSpec(cp+".size", &c.Size); err != nil {
			return err
		}
	}
	return nil
}

func validateArrival(prefix string, a *ArrivalSpec) error {
	if !validArrivalProcesses[a.Process] {
		return fmt.Errorf("%s: unknown process %q; valid: interval, poisson, gamma, weibull", prefix, a.Process)
	}
	if a.Process == "interval" {
		if a.Interval == nil {
			return fmt.Errorf("%s: interval process requires an interval distribution", prefix)
		}
		return validateDistSpec(prefix+".interval", a.Interval)
	}
	if err := validateFinitePositive(prefix+".mean_ms", a.MeanMs); err != nil {
		return err
	}
	if a.CV != nil {
		if err := validateFinitePositive(prefix+".cv", *a.CV); err != nil {
			return err
		}
		if a.Process == "weibull" && (*a.CV < 0.01 || *a.CV > 10.4) {
			return fmt.Errorf("%s: weibull CV must be in [0.01, 10.4], got %f", prefix, *a.CV)
		}
	}
	return nil
}

func validateDistSpec(prefix string, d *DistSpec) error {
	if !validDistTypes[d.Type] {
		return fmt.Errorf("%s: unknown distribution type %q; valid: uniform, gaussian, exponential, constant", prefix, d.Type)
	}
	for name, val := range d.Params {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("%s.params.%s must be a finite number, got %f", prefix, name, val)
		}
	}
	if _, err := NewValueSampler(*d); err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	return nil
}

func validateFinitePositive(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val <= 0 {
		return fmt.Errorf("%s must be positive, got %f", name, val)
	}
	return nil
}
