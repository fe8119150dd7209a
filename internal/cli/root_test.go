package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildVersionIncludesBuildMetadata(t *testing.T) {
	got := buildVersion("1.2.0", "abc1234", "2026-08-01")
	require.Equal(t, "1.2.0 (commit abc1234, built 2026-08-01)", got)
}

func TestRootCommandVersion(t *testing.T) {
	cmd := newRootCmd(buildVersion("dev", "none", "unknown"))
	require.Equal(t, "dev (commit none, built unknown)", cmd.Version)
}
