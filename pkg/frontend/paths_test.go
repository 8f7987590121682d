package frontend

import (
	"testing"

	"github.com/openfroyo/buildtree/pkg/config"
)

func TestIsReadAllowed(t *testing.T) {
	cfg := &config.Environment{TopSrcDir: "/src", TopObjDir: "/obj", ExternalSourceDir: "/ext"}
	noExt := &config.Environment{TopSrcDir: "/src", TopObjDir: "/obj"}
	tests := []struct {
		name string
		path string
		cfg  *config.Environment
		want bool
	}{
		{name: "top file", path: "/src/moz.build", cfg: cfg, want: true},
		{name: "nested file", path: "/src/a/b/moz.build", cfg: cfg, want: true},
		{name: "sibling with shared prefix", path: "/src2/moz.build", cfg: cfg, want: false},
		{name: "escapes with dot dot", path: "/src/../etc/moz.build", cfg: cfg, want: false},
		{name: "external source dir", path: "/ext/a/moz.build", cfg: cfg, want: true},
		{name: "external without config", path: "/ext/a/moz.build", cfg: noExt, want: false},
		{name: "object dir", path: "/obj/moz.build", cfg: cfg, want: false},
		{name: "relative path", path: "src/moz.build", cfg: cfg, want: false},
		{name: "nil config", path: "/src/moz.build", cfg: nil, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsReadAllowed(tt.path, tt.cfg); got != tt.want {
				t.Errorf("IsReadAllowed(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
