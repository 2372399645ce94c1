package manual

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/crisislens/vlm"
)

func TestGenerateBlankSkeleton(t *testing.T) {
	p := NewManualProvider()
	result, err := p.Generate(context.Background(), []byte{1, 2, 3}, "any prompt", "any instructions")
	require.NoError(t, err)

	assert.Equal(t, "manual", result.Provider)
	assert.Empty(t, result.Caption)
	assert.Equal(t, "", result.Document["description"])
	assert.Equal(t, "", result.Document["analysis"])
	assert.Equal(t, "", result.Document["recommended_actions"])
	assert.Empty(t, result.Document["metadata"])
}

func TestDescribeManualFamily(t *testing.T) {
	info := NewManualProvider().Describe()
	assert.Equal(t, "manual", info.Name)
	assert.Equal(t, vlm.FamilyManual, info.Family)
}

func TestGenerateHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewManualProvider().Generate(ctx, []byte{1}, "x", "")
	assert.Error(t, err)
}
