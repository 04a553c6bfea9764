package cli_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/openkraft/anvil/internal/adapters/inbound/cli"
	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/registry"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubValidator reports a fixed status for whatever files it receives.
type stubValidator struct {
	name      string
	lang      string
	status    domain.Status
	available bool
}

func (v *stubValidator) Name() string                     { return v.name }
func (v *stubValidator) Language() string                 { return v.lang }
func (v *stubValidator) IsAvailable(context.Context) bool { return v.available }
func (v *stubValidator) Version(context.Context) (string, error) {
	return "1.2.3", nil
}

func (v *stubValidator) Validate(_ context.Context, req domain.ValidateRequest) domain.ValidationResult {
	r := domain.ValidationResult{
		Validator:    v.name,
		Language:     v.lang,
		Status:       v.status,
		Passed:       v.status == domain.StatusPassed,
		Files:        req.Files,
		FilesChecked: len(req.Files),
	}
	if v.status == domain.StatusFailed {
		for _, f := range req.Files {
			r.AddIssue(domain.Issue{File: f, Line: 1, Severity: domain.SeverityError, Code: "E1", Message: "broken"})
		}
	}
	return r
}

func stub(name, lang string, status domain.Status) *stubValidator {
	return &stubValidator{name: name, lang: lang, status: status, available: true}
}

// stubRegistry builds a fresh registry on every call, as setup asks twice.
func stubRegistry(vs ...*stubValidator) cli.RegistryFactory {
	return func(*zap.Logger) (*registry.Registry, error) {
		reg := registry.New()
		for _, v := range vs {
			err := reg.Register(registry.Descriptor{
				Name:           v.name,
				Language:       v.lang,
				Kind:           registry.KindLint,
				Description:    v.name + " stub",
				DefaultEnabled: true,
				Validator:      v,
			})
			if err != nil {
				return nil, err
			}
		}
		return reg, nil
	}
}

// pyProject creates a two-file python project with an optional .anvil.yaml.
func pyProject(t *testing.T, cfg string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "app"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app", "a.py"), []byte("x = 1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app", "b.py"), []byte("y = 2\n"), 0644))
	if cfg != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".anvil.yaml"), []byte(cfg), 0644))
	}
	return dir
}

func execute(factory cli.RegistryFactory, args ...string) (string, error) {
	cmd := cli.NewRootCmdWithRegistry(factory)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return buf.String(), err
}
