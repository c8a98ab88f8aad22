package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func resourceNames(rs []Resource) []string {
	names := make([]string, 0, len(rs))
	for _, r := range rs {
		names = append(names, r.Name)
	}

	return names
}

func TestDefault_LoadsEmbeddedCatalog(t *testing.T) {
	c := Default()
	ctx := context.Background()

	hotlines, _ := c.Hotlines(ctx)
	if len(hotlines) != 3 || hotlines[0].Number != "988" {
		t.Errorf("Hotlines() = %+v", hotlines)
	}

	all, _ := c.Resources(ctx, ResourceFilter{})
	if len(all) != 4 {
		t.Errorf("Resources() returned %d, want 4", len(all))
	}

	groups, _ := c.PeerGroups(ctx)
	if len(groups) != 3 {
		t.Errorf("PeerGroups() returned %d, want 3", len(groups))
	}

	peers, _ := c.Peers(ctx)
	if len(peers) != 3 {
		t.Errorf("Peers() returned %d, want 3", len(peers))
	}

	agents, _ := c.Agents(ctx)
	if len(agents) != 4 {
		t.Errorf("Agents() returned %d, want 4", len(agents))
	}
}

func TestCatalog_ResourceFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter ResourceFilter
		want   []string
	}{
		{
			name:   "therapists",
			filter: ResourceFilter{Type: TypeTherapist},
			want:   []string{"Dr. Sarah Johnson, LCSW", "Community Mental Health Clinic"},
		},
		{
			name:   "search by specialty is case-insensitive",
			filter: ResourceFilter{Search: "TRAUMA"},
			want:   []string{"Dr. Sarah Johnson, LCSW"},
		},
		{
			name:   "search by description",
			filter: ResourceFilter{Search: "walk-in"},
			want:   []string{"Hope Crisis Center"},
		},
		{
			name:   "type and search combine",
			filter: ResourceFilter{Type: TypeSupportGroup, Search: "anxiety"},
			want:   []string{"Anxiety & Depression Support Group"},
		},
		{
			name:   "all with search",
			filter: ResourceFilter{Type: TypeAll, Search: "crisis intervention"},
			want:   []string{"Dr. Sarah Johnson, LCSW", "Hope Crisis Center"},
		},
		{
			name:   "no hotlines in resources",
			filter: ResourceFilter{Type: TypeHotline},
			want:   []string{},
		},
	}

	c := Default()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Resources(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("Resources() error = %v", err)
			}

			names := resourceNames(got)
			if len(names) != len(tt.want) {
				t.Fatalf("Resources() = %v, want %v", names, tt.want)
			}

			for i := range names {
				if names[i] != tt.want[i] {
					t.Fatalf("Resources() = %v, want %v", names, tt.want)
				}
			}
		})
	}
}

func TestParseResourceType(t *testing.T) {
	tests := []struct {
		in      string
		want    ResourceType
		wantErr bool
	}{
		{in: "", want: TypeAll},
		{in: "all", want: TypeAll},
		{in: "Crisis_Center", want: TypeCrisisCenter},
		{in: " hotline ", want: TypeHotline},
		{in: "psychic", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseResourceType(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseResourceType(%q) error = nil", tt.in)
			}

			continue
		}

		if err != nil || got != tt.want {
			t.Errorf("ParseResourceType(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file falls back", func(t *testing.T) {
		c, err := Load(filepath.Join(dir, "nope.yaml"))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if len(c.ResourceList) != 4 {
			t.Errorf("fallback catalog has %d resources", len(c.ResourceList))
		}
	})

	t.Run("override", func(t *testing.T) {
		path := filepath.Join(dir, "catalog.yaml")
		doc := "hotlines:\n  - name: Samaritans\n    number: \"116 123\"\nresources:\n  - name: Local Clinic\n    type: therapist\n"

		if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		c, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		hotlines, _ := c.Hotlines(context.Background())
		if len(hotlines) != 1 || hotlines[0].Number != "116 123" {
			t.Errorf("Hotlines() = %+v", hotlines)
		}
	})

	t.Run("invalid type rejected", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		if err := os.WriteFile(path, []byte("resources:\n  - name: X\n    type: wizard\n"), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}

		if _, err := Load(path); err == nil {
			t.Error("Load() error = nil, want invalid type error")
		}
	})
}

func TestCatalog_ReturnsCopies(t *testing.T) {
	c := Default()

	hotlines, _ := c.Hotlines(context.Background())
	hotlines[0].Number = "000"

	again, _ := c.Hotlines(context.Background())
	if again[0].Number != "988" {
		t.Error("Hotlines() exposes the catalog's backing slice")
	}
}
