package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talonsec/talon/pkg/talon/types"
)

func TestParseThreat(t *testing.T) {
	tests := []struct {
		name string
		out  string
		path string
		want string
	}{
		{
			name: "standard clamscan line",
			out:  "/tmp/eicar.txt: Eicar-Test-Signature FOUND\n",
			path: "/tmp/eicar.txt",
			want: "Eicar-Test-Signature",
		},
		{
			name: "canonicalized path",
			out:  "/private/tmp/eicar.txt: Win.Test.EICAR_HDB-1 FOUND\n",
			path: "/tmp/eicar.txt",
			want: "Win.Test.EICAR_HDB-1",
		},
		{
			name: "noise before the match",
			out:  "LibClamAV Warning: something\n/tmp/x: Trojan.Generic FOUND\n",
			path: "/tmp/x",
			want: "Trojan.Generic",
		},
		{
			name: "no match",
			out:  "garbage output\n",
			path: "/tmp/x",
			want: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseThreat(tt.out, tt.path))
		})
	}
}

func TestNewClamAVMissingBinary(t *testing.T) {
	_, err := NewClamAV("talon-test-no-such-scanner")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandNotFound)
}

// fakeScanner writes a shell script that mimics clamscan's exit code
// and output conventions and returns its path.
func fakeScanner(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake scanner")
	}
	path := filepath.Join(t.TempDir(), "fakescan")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestClamAVScanVerdicts(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   types.VerdictState
		threat string
	}{
		{
			name:   "clean",
			script: "exit 0\n",
			want:   types.Clean,
		},
		{
			name:   "infected",
			script: `last=""; for a in "$@"; do last="$a"; done; echo "$last: Eicar-Test-Signature FOUND"; exit 1` + "\n",
			want:   types.Infected,
			threat: "Eicar-Test-Signature",
		},
		{
			name:   "engine error",
			script: "echo 'ERROR: Can not open file' >&2; exit 2\n",
			want:   types.Failed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, err := NewClamAV(fakeScanner(t, tt.script))
			require.NoError(t, err)

			target := filepath.Join(t.TempDir(), "file.bin")
			require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

			verdict, err := eng.Scan(context.Background(), target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, verdict.State)
			if tt.threat != "" {
				assert.Equal(t, tt.threat, verdict.Threat)
			}
			if tt.want == types.Failed {
				assert.NotEmpty(t, verdict.Detail)
			}
		})
	}
}

func TestFuncAdapter(t *testing.T) {
	called := false
	eng := Func(func(_ context.Context, path string) (types.Verdict, error) {
		called = true
		if path == "/bad" {
			return types.Verdict{}, errors.New("boom")
		}
		return types.Verdict{State: types.Clean}, nil
	})

	v, err := eng.Scan(context.Background(), "/good")
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, types.Clean, v.State)

	_, err = eng.Scan(context.Background(), "/bad")
	assert.Error(t, err)
}
