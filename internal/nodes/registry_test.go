package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

type stubExecutor struct {
	base
}

func (s *stubExecutor) Execute(_ context.Context, p Params) (schema.Context, error) {
	return p.Context, nil
}

func stub(t schema.NodeType) *stubExecutor {
	return &stubExecutor{base: base{nodeType: t}}
}

func TestRegistry_Register_Success(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stub(schema.NodeTypeSlack)))
	assert.Equal(t, 1, reg.Count())
	assert.True(t, reg.Has(schema.NodeTypeSlack))
	assert.False(t, reg.Has(schema.NodeTypeDiscord))
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stub(schema.NodeTypeSlack)))

	err := reg.Register(stub(schema.NodeTypeSlack))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConflict))
}

func TestRegistry_Register_Invalid(t *testing.T) {
	reg := NewRegistry()

	err := reg.Register(nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = reg.Register(stub("TELEGRAM"))
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
	assert.Equal(t, 0, reg.Count())
}

func TestRegistry_Get_Unknown(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get(schema.NodeTypeGemini)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeUnknownNodeType))
}

func TestRegistry_List_Sorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(stub(schema.NodeTypeSlack)))
	require.NoError(t, reg.Register(stub(schema.NodeTypeDiscord)))
	require.NoError(t, reg.Register(stub(schema.NodeTypeManualTrigger)))

	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, schema.NodeTypeDiscord, infos[0].Type)
	assert.Equal(t, schema.NodeTypeManualTrigger, infos[1].Type)
	assert.True(t, infos[1].Trigger)
	assert.Equal(t, schema.NodeTypeSlack, infos[2].Type)
	assert.Equal(t, "slack-execution", infos[2].Channel)
}

func TestNewDefaultRegistry_CoversEveryNodeType(t *testing.T) {
	reg, err := NewDefaultRegistry(Deps{Credentials: staticCredentials{}})
	require.NoError(t, err)

	for _, nt := range schema.NodeTypes {
		exec, err := reg.Get(nt)
		require.NoError(t, err, nt)
		assert.Equal(t, nt, exec.Type())
	}
	assert.Equal(t, len(schema.NodeTypes), reg.Count())
}

func TestNewDefaultRegistry_RequiresCredentials(t *testing.T) {
	_, err := NewDefaultRegistry(Deps{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}
