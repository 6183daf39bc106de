// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"errors"
	"slices"
	"testing"
)

func TestFindMatchingAsset(t *testing.T) {
	t.Parallel()

	zip := "application/zip"
	tests := []struct {
		name     string
		assets   []Asset
		prefix   string
		wantName string
	}{
		{
			name:     "exact name",
			assets:   []Asset{{Name: "my-plugin.zip", ContentType: zip}},
			prefix:   "my-plugin",
			wantName: "my-plugin.zip",
		},
		{
			name:     "mixed case",
			assets:   []Asset{{Name: "My-Plugin.ZIP", ContentType: zip}},
			prefix:   "my-plugin",
			wantName: "My-Plugin.ZIP",
		},
		{
			name:     "underscore variant of hyphen prefix",
			assets:   []Asset{{Name: "my_plugin.zip", ContentType: zip}},
			prefix:   "my-plugin",
			wantName: "my_plugin.zip",
		},
		{
			name:     "hyphen variant of underscore prefix",
			assets:   []Asset{{Name: "my-plugin.zip", ContentType: "application/octet-stream"}},
			prefix:   "my_plugin",
			wantName: "my-plugin.zip",
		},
		{
			name:     "trailing separator trimmed",
			assets:   []Asset{{Name: "widget.zip"}},
			prefix:   "widget-",
			wantName: "widget.zip",
		},
		{
			name: "first match in API order wins",
			assets: []Asset{
				{Name: "widget-src.zip", ContentType: zip},
				{Name: "WIDGET.zip", ContentType: zip},
				{Name: "widget.zip", ContentType: zip},
			},
			prefix:   "widget",
			wantName: "WIDGET.zip",
		},
		{
			name: "content type makes name eligible",
			assets: []Asset{
				{Name: "widget.zip", ContentType: "application/x-zip-compressed; charset=binary"},
			},
			prefix:   "widget",
			wantName: "widget.zip",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := FindMatchingAsset(tt.assets, tt.prefix)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Name != tt.wantName {
				t.Errorf("got %q, want %q", got.Name, tt.wantName)
			}
		})
	}
}

func TestFindMatchingAsset_NoMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		assets []Asset
	}{
		{"no assets", nil},
		{"different name", []Asset{{Name: "other.zip", ContentType: "application/zip"}}},
		{"substring only", []Asset{{Name: "widget-1.0.zip", ContentType: "application/zip"}}},
		{"non archive", []Asset{{Name: "widget.tar.gz", ContentType: "application/gzip"}}},
		{"source snapshot", []Asset{{Name: "Source code (zip)", ContentType: "application/zip"}, {Name: "widget-main.zip"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := FindMatchingAsset(tt.assets, "widget")
			var notFound *AssetNotFoundError
			if !errors.As(err, &notFound) {
				t.Fatalf("expected *AssetNotFoundError, got %v", err)
			}
			if notFound.Expected != "widget.zip" {
				t.Errorf("got expected name %q, want %q", notFound.Expected, "widget.zip")
			}
			if len(notFound.Available) != len(tt.assets) {
				t.Errorf("got %d available names, want %d", len(notFound.Available), len(tt.assets))
			}
			if KindOf(err) != KindAssetSelection {
				t.Errorf("got kind %q, want %q", KindOf(err), KindAssetSelection)
			}
		})
	}
}

func TestFindMatchingAsset_EmptyPrefix(t *testing.T) {
	t.Parallel()

	_, err := FindMatchingAsset([]Asset{{Name: ".zip"}}, " -_ ")
	if !errors.Is(err, ErrEmptyAssetPrefix) {
		t.Errorf("expected ErrEmptyAssetPrefix, got %v", err)
	}
}

func TestAssetCandidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prefix string
		want   []string
	}{
		{"widget", []string{"widget.zip"}},
		{"my-plugin", []string{"my-plugin.zip", "my_plugin.zip"}},
		{"my_plugin", []string{"my_plugin.zip", "my-plugin.zip"}},
		{"a_b-c", []string{"a_b-c.zip", "a-b-c.zip", "a_b_c.zip"}},
	}

	for _, tt := range tests {
		if got := AssetCandidates(tt.prefix); !slices.Equal(got, tt.want) {
			t.Errorf("AssetCandidates(%q) = %v, want %v", tt.prefix, got, tt.want)
		}
	}
}
