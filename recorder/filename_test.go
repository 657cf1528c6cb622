package recorder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveFilenamePlainPath(t *testing.T) {
	got, err := ResolveFilename("/tmp/out.xdf")
	require.NoError(t, err)
	require.Equal(t, "/tmp/out.xdf", got)
}

func TestResolveFilenameTemplateExample(t *testing.T) {
	spec := "{root:/data} {template:sub-{p}_run-{r}.xdf} {p:001} {r:baseline}"
	got, err := ResolveFilename(spec)
	require.NoError(t, err)
	require.Equal(t, "/data/sub-001_run-baseline.xdf", got)
}

func TestResolveFilenameMissingVariableIsBadRequest(t *testing.T) {
	spec := "{root:/data} {template:sub-{p}.xdf}"
	_, err := ResolveFilename(spec)
	require.Error(t, err)
}

func TestResolveFilenameNoTemplateIsBadRequest(t *testing.T) {
	spec := "{root:/data}"
	_, err := ResolveFilename(spec)
	require.Error(t, err)
}

func TestResolveFilenameWithoutRoot(t *testing.T) {
	spec := "{template:t.xdf}"
	got, err := ResolveFilename(spec)
	require.NoError(t, err)
	require.Equal(t, "t.xdf", got)
}

func TestResolveFilenameUnbalancedBraces(t *testing.T) {
	_, err := ResolveFilename("{root:/data} {template:t.xdf")
	require.Error(t, err)
}
