package deploy

import (
	"bytes"
	"fmt"
	"os"

	"github.com/h3ow3d/rackcfg/internal/manifest"
	"github.com/h3ow3d/rackcfg/internal/nginx"
	"github.com/h3ow3d/rackcfg/internal/systemd"
	"github.com/h3ow3d/rackcfg/internal/types"
)

// Check looks for regressions in the rendered and installed artifacts of
// m and returns one message per problem. An empty result means the host
// matches the manifest.
func Check(m *types.RackManifest, hashPath string) []string {
	var problems []string

	first, err := Render(m)
	if err != nil {
		return []string{fmt.Sprintf("render failed: %v", err)}
	}
	second, err := Render(m)
	if err != nil {
		return []string{fmt.Sprintf("second render failed: %v", err)}
	}
	for i := range first {
		if !bytes.Equal(first[i].Data, second[i].Data) {
			problems = append(problems, fmt.Sprintf("%s: re-render with identical input is not byte-identical", first[i].Name))
		}
	}

	for _, a := range first {
		installed, err := os.ReadFile(a.Path)
		if os.IsNotExist(err) {
			problems = append(problems, fmt.Sprintf("%s: %s is not installed", a.Name, a.Path))
			continue
		}
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", a.Name, err))
			continue
		}
		if !bytes.Equal(installed, a.Data) {
			problems = append(problems, fmt.Sprintf("%s: %s differs from the rendered configuration", a.Name, a.Path))
		}

		switch a.Name {
		case Nginx:
			if err := nginx.Verify(installed, manifest.Substitutions(m).UpstreamHTTP); err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", a.Name, err))
			}
		case Unit:
			u, err := systemd.ParseUnitBytes(installed)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: %v", a.Name, err))
			} else if err := u.Validate(); err != nil {
				problems = append(problems, fmt.Sprintf("%s: installed unit: %v", a.Name, err))
			}
			if hashPath != "" {
				if msg := systemd.CheckUnitFileIntegrity(a.Path, hashPath); msg != "" {
					problems = append(problems, fmt.Sprintf("%s: %s", a.Name, msg))
				}
			}
		}
	}
	return problems
}
