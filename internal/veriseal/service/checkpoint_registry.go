package service

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/veriseal/server/internal/veriseal/shipment"
)

// Checkpoint is one configured stop on the delivery route.
type Checkpoint struct {
	ID       string `yaml:"id" json:"checkpoint_id"`
	Name     string `yaml:"name" json:"name"`
	Location string `yaml:"location" json:"location"`
	Delivery bool   `yaml:"delivery" json:"delivery"`
	Hold     bool   `yaml:"hold" json:"hold"`
}

func (c Checkpoint) Stop() shipment.Stop {
	return shipment.Stop{Delivery: c.Delivery, Hold: c.Hold}
}

// CheckpointRegistry is the read-only set of known checkpoints, kept in
// route order.
type CheckpointRegistry struct {
	list []Checkpoint
	byID map[string]Checkpoint
}

type registryFile struct {
	Checkpoints []Checkpoint `yaml:"checkpoints"`
}

func NewCheckpointRegistry(cps []Checkpoint) (*CheckpointRegistry, error) {
	if len(cps) == 0 {
		return nil, fmt.Errorf("checkpoint registry is empty")
	}
	r := &CheckpointRegistry{byID: make(map[string]Checkpoint, len(cps))}
	for _, cp := range cps {
		cp.ID = strings.TrimSpace(cp.ID)
		if cp.ID == "" {
			return nil, fmt.Errorf("checkpoint registry: entry with empty id")
		}
		if cp.Delivery && cp.Hold {
			return nil, fmt.Errorf("checkpoint registry: %s cannot be both delivery and hold", cp.ID)
		}
		if _, dup := r.byID[cp.ID]; dup {
			return nil, fmt.Errorf("checkpoint registry: duplicate id %s", cp.ID)
		}
		r.byID[cp.ID] = cp
		r.list = append(r.list, cp)
	}
	return r, nil
}

// LoadCheckpointRegistry reads a YAML file of the form
//
//	checkpoints:
//	  - id: CP001
//	    name: Warehouse Dispatch
//	    location: Mumbai Warehouse
func LoadCheckpointRegistry(path string) (*CheckpointRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint registry: %w", err)
	}
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse checkpoint registry %s: %w", path, err)
	}
	return NewCheckpointRegistry(f.Checkpoints)
}

func DefaultCheckpointRegistry() *CheckpointRegistry {
	r, err := NewCheckpointRegistry([]Checkpoint{
		{ID: "CP001", Name: "Warehouse Dispatch", Location: "Mumbai Warehouse"},
		{ID: "CP002", Name: "Local Hub", Location: "Mumbai Central Hub"},
		{ID: "CP003", Name: "Transit Hub", Location: "Delhi Transit Hub"},
		{ID: "CP004", Name: "Destination Hub", Location: "Bangalore Hub"},
		{ID: "CP005", Name: "Out for Delivery", Location: "Local Delivery Center"},
		{ID: "CP006", Name: "Delivered", Location: "Customer Location", Delivery: true},
	})
	if err != nil {
		panic(err)
	}
	return r
}

func (r *CheckpointRegistry) Lookup(id string) (Checkpoint, bool) {
	cp, ok := r.byID[strings.TrimSpace(id)]
	return cp, ok
}

// All returns the checkpoints in route order.
func (r *CheckpointRegistry) All() []Checkpoint {
	out := make([]Checkpoint, len(r.list))
	copy(out, r.list)
	return out
}
