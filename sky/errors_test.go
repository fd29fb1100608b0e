package sky

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Parallel()

	err := stageErr(StageRefine, fmt.Errorf("%w: matte 10x20", ErrRefinement))
	assert.Equal(t, "sky: refine stage: sky: matte refinement failed: matte 10x20", err.Error())
	assert.ErrorIs(t, err, ErrRefinement)
	assert.Equal(t, StageRefine, StageOf(fmt.Errorf("wrapped: %w", err)))

	assert.Equal(t, Stage(""), StageOf(errors.New("plain")))
}
