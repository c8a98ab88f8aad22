// Package directory serves the reference data the client shows alongside
// the live session: support resources, hotlines, peers, peer groups and the
// agents the backend runs.
package directory

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// ResourceType classifies a Resource.
type ResourceType string

// Resource types.
const (
	TypeAll          ResourceType = "all"
	TypeTherapist    ResourceType = "therapist"
	TypeCrisisCenter ResourceType = "crisis_center"
	TypeSupportGroup ResourceType = "support_group"
	TypeHotline      ResourceType = "hotline"
)

// ResourceTypes lists the accepted filter values, "all" first.
func ResourceTypes() []ResourceType {
	return []ResourceType{TypeAll, TypeTherapist, TypeCrisisCenter, TypeSupportGroup, TypeHotline}
}

// Label is the plural display name of t.
func (t ResourceType) Label() string {
	switch t {
	case TypeAll:
		return "All Resources"
	case TypeTherapist:
		return "Therapists"
	case TypeCrisisCenter:
		return "Crisis Centers"
	case TypeSupportGroup:
		return "Support Groups"
	case TypeHotline:
		return "Hotlines"
	default:
		return string(t)
	}
}

// ParseResourceType validates a filter value.
func ParseResourceType(s string) (ResourceType, error) {
	t := ResourceType(strings.ToLower(strings.TrimSpace(s)))
	if t == "" {
		return TypeAll, nil
	}

	if slices.Contains(ResourceTypes(), t) {
		return t, nil
	}

	return "", fmt.Errorf("unknown resource type %q", s)
}

// Resource is a provider the user can contact.
type Resource struct {
	ID           string       `yaml:"id" json:"id"`
	Name         string       `yaml:"name" json:"name"`
	Type         ResourceType `yaml:"type" json:"type"`
	Distance     string       `yaml:"distance" json:"distance,omitempty"`
	Description  string       `yaml:"description" json:"description"`
	Phone        string       `yaml:"phone" json:"phone"`
	Address      string       `yaml:"address" json:"address,omitempty"`
	Insurance    string       `yaml:"insurance" json:"insurance,omitempty"`
	Availability string       `yaml:"availability" json:"availability,omitempty"`
	Rating       float64      `yaml:"rating" json:"rating"`
	Cost         string       `yaml:"cost" json:"cost,omitempty"`
	Specialties  []string     `yaml:"specialties" json:"specialties"`
}

// Hotline is an always-available crisis line.
type Hotline struct {
	Name        string `yaml:"name" json:"name"`
	Number      string `yaml:"number" json:"number"`
	Description string `yaml:"description" json:"description"`
	// Text is the short code for SMS, when the line accepts texts.
	Text string `yaml:"text" json:"text,omitempty"`
}

// Peer is a peer supporter.
type Peer struct {
	ID            string   `yaml:"id" json:"id"`
	Name          string   `yaml:"name" json:"name"`
	Description   string   `yaml:"description" json:"description"`
	Compatibility int      `yaml:"compatibility" json:"compatibility"`
	Online        bool     `yaml:"online" json:"online"`
	Specialties   []string `yaml:"specialties" json:"specialties"`
}

// PeerGroup is a recurring support group.
type PeerGroup struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Members     int    `yaml:"members" json:"members"`
	NextMeeting string `yaml:"next_meeting" json:"next_meeting"`
	Active      bool   `yaml:"active" json:"active"`
}

// Agent describes a backend agent. Its live status comes from the live channel.
type Agent struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// ResourceFilter narrows Resources. The zero value matches everything.
type ResourceFilter struct {
	Type   ResourceType
	Search string
}

// Matches reports whether r passes the filter. Search is a case-insensitive
// substring match on name, description and specialties.
func (f ResourceFilter) Matches(r Resource) bool {
	if f.Type != "" && f.Type != TypeAll && r.Type != f.Type {
		return false
	}

	term := strings.ToLower(strings.TrimSpace(f.Search))
	if term == "" {
		return true
	}

	if strings.Contains(strings.ToLower(r.Name), term) || strings.Contains(strings.ToLower(r.Description), term) {
		return true
	}

	return slices.ContainsFunc(r.Specialties, func(s string) bool {
		return strings.Contains(strings.ToLower(s), term)
	})
}

// Provider is the source of directory data.
type Provider interface {
	Resources(ctx context.Context, filter ResourceFilter) ([]Resource, error)
	Hotlines(ctx context.Context) ([]Hotline, error)
	Peers(ctx context.Context) ([]Peer, error)
	PeerGroups(ctx context.Context) ([]PeerGroup, error)
	Agents(ctx context.Context) ([]Agent, error)
}

// Catalog is a static Provider loaded from YAML.
type Catalog struct {
	HotlineList   []Hotline   `yaml:"hotlines"`
	ResourceList  []Resource  `yaml:"resources"`
	PeerList      []Peer      `yaml:"peers"`
	PeerGroupList []PeerGroup `yaml:"peer_groups"`
	AgentList     []Agent     `yaml:"agents"`
}

// Default returns the catalog shipped with the binary.
func Default() *Catalog {
	c, err := Parse(embeddedCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}

	return c
}

// Load reads the catalog at path, falling back to the built-in catalog when
// path is empty or does not exist.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path from controlled config directory
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}

	return c, nil
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	for i, r := range c.ResourceList {
		if r.Name == "" {
			return nil, fmt.Errorf("resource %d has no name", i+1)
		}

		if _, err := ParseResourceType(string(r.Type)); err != nil || r.Type == TypeAll {
			return nil, fmt.Errorf("resource %q: invalid type %q", r.Name, r.Type)
		}
	}

	return &c, nil
}

// Resources implements Provider.
func (c *Catalog) Resources(_ context.Context, filter ResourceFilter) ([]Resource, error) {
	out := []Resource{}

	for _, r := range c.ResourceList {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}

	return out, nil
}

// Hotlines implements Provider.
func (c *Catalog) Hotlines(context.Context) ([]Hotline, error) {
	return slices.Clone(c.HotlineList), nil
}

// Peers implements Provider.
func (c *Catalog) Peers(context.Context) ([]Peer, error) {
	return slices.Clone(c.PeerList), nil
}

// PeerGroups implements Provider.
func (c *Catalog) PeerGroups(context.Context) ([]PeerGroup, error) {
	return slices.Clone(c.PeerGroupList), nil
}

// Agents implements Provider.
func (c *Catalog) Agents(context.Context) ([]Agent, error) {
	return slices.Clone(c.AgentList), nil
}
