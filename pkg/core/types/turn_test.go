package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "user", want: RoleUser},
		{in: "model", want: RoleAgent},
		{in: "assistant", want: RoleAgent},
		{in: " USER ", want: RoleUser},
		{in: "system", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestTurn_JSONUsesWireNames(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal([]Turn{UserTurn("hi"), AgentTurn("hello")})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"role":"user","content":"hi"},{"role":"model","content":"hello"}]`, string(b))

	var back []Turn
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, []Turn{UserTurn("hi"), AgentTurn("hello")}, back)
}

func TestTurn_RejectsUnknownRole(t *testing.T) {
	t.Parallel()

	var turn Turn
	err := json.Unmarshal([]byte(`{"role":"tool","content":"x"}`), &turn)
	require.Error(t, err)

	_, err = json.Marshal(Turn{Content: "no role"})
	require.Error(t, err)
	assert.Error(t, Turn{}.Validate())
}

func TestCloneTurns_DoesNotAlias(t *testing.T) {
	t.Parallel()

	src := []Turn{UserTurn("a")}
	dst := CloneTurns(src)
	dst[0] = AgentTurn("b")

	assert.Equal(t, "a", src[0].Content)
	assert.Nil(t, CloneTurns(nil))
}
