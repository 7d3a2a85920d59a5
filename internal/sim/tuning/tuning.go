package tuning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

//go:embed schema.json
var schemaJSON string

type Tuning struct {
	TickRateHz         int    `yaml:"tick_rate_hz" json:"tick_rate_hz" env:"RAILCART_TICK_RATE_HZ"`
	Debug              bool   `yaml:"debug" json:"debug" env:"RAILCART_DEBUG"`
	PacketInterception bool   `yaml:"packet_interception" json:"packet_interception" env:"RAILCART_PACKET_INTERCEPTION"`
	PermissionNode     string `yaml:"permission_node" json:"permission_node" env:"RAILCART_PERMISSION_NODE"`

	Permissions Permissions       `yaml:"permissions" json:"permissions"`
	Messages    map[string]string `yaml:"messages" json:"messages"`
	Track       []TrackBlock      `yaml:"track" json:"track"`
}

type Permissions struct {
	Default []string            `yaml:"default" json:"default"`
	Players map[string][]string `yaml:"players" json:"players"`
}

type TrackBlock struct {
	Pos      [3]int `yaml:"pos" json:"pos"`
	Material string `yaml:"material" json:"material"`
}

const DefaultPermissionNode = "minecartplugin.userail"

func Defaults() Tuning {
	return Tuning{
		TickRateHz:         20,
		PacketInterception: true,
		PermissionNode:     DefaultPermissionNode,
		Permissions: Permissions{
			Default: []string{DefaultPermissionNode},
			Players: map[string][]string{},
		},
		Messages: map[string]string{
			"no-permission":  "You do not have permission to use this feature!",
			"already-active": "You already have an active minecart!",
			"spawn":          "Your minecart is ready to ride!",
			"exit":           "Thanks for riding the minecart!",
			"error":          "Failed to spawn a minecart!",
			"release-error":  "Failed to remove your minecart!",
		},
		Track: []TrackBlock{
			{Pos: [3]int{0, 64, 0}, Material: "RAIL"},
			{Pos: [3]int{1, 64, 0}, Material: "POWERED_RAIL"},
			{Pos: [3]int{2, 64, 0}, Material: "DETECTOR_RAIL"},
			{Pos: [3]int{3, 64, 0}, Material: "ACTIVATOR_RAIL"},
		},
	}
}

// DefaultFile returns the commented default config.yaml.
func DefaultFile() []byte { return append([]byte(nil), defaultYAML...) }

// WriteDefault writes the default config to path unless a file already
// exists there. It reports whether it wrote one.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(path, defaultYAML, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// Load reads path over the defaults, validates it and applies RAILCART_*
// environment overrides.
func Load(path string) (Tuning, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := validate(raw); err != nil {
		return t, fmt.Errorf("config.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("config.yaml: %w", err)
	}
	if err := env.Parse(&t); err != nil {
		return t, fmt.Errorf("config env: %w", err)
	}
	if t.TickRateHz <= 0 {
		return t, fmt.Errorf("config: tick_rate_hz must be positive, got %d", t.TickRateHz)
	}
	if strings.TrimSpace(t.PermissionNode) == "" {
		t.PermissionNode = DefaultPermissionNode
	}
	return t, nil
}

func validate(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// Round-trip through JSON so the validator sees plain JSON values.
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	schema, err := jsonschema.CompileString("config.schema.json", schemaJSON)
	if err != nil {
		return err
	}
	return schema.Validate(v)
}

// MessageFor looks up a flat "messages.<name>" key, falling back to def.
func (t Tuning) MessageFor(key, def string) string {
	name := strings.TrimPrefix(key, "messages.")
	if s := strings.TrimSpace(t.Messages[name]); s != "" {
		return t.Messages[name]
	}
	return def
}

// NodesFor returns the permission nodes granted to a player name.
func (t Tuning) NodesFor(name string) []string { return t.Permissions.NodesFor(name) }

// NodesFor lists the default nodes followed by the player's own entries.
// A "-node" entry revokes an earlier grant. Player keys match without
// regard to case; when several keys match they apply in key order and the
// exact-case key applies last.
func (p Permissions) NodesFor(name string) []string {
	nodes := append([]string(nil), p.Default...)
	var keys []string
	for n := range p.Players {
		if strings.EqualFold(n, name) {
			keys = append(keys, n)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if ei, ej := keys[i] == name, keys[j] == name; ei != ej {
			return ej
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		nodes = append(nodes, p.Players[k]...)
	}
	return nodes
}

// Grants resolves node for a player name. Later entries win; "*" grants
// every node.
func (p Permissions) Grants(name, node string) bool {
	granted := false
	for _, n := range p.NodesFor(name) {
		switch n {
		case node, "*":
			granted = true
		case "-" + node, "-*":
			granted = false
		}
	}
	return granted
}
