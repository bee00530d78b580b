// Package types holds the conversation data model shared by the gateway,
// the session store and the client.
package types

import (
	"fmt"
	"strings"
)

// Role identifies who produced a turn. Only RoleUser and RoleAgent are valid;
// the zero value is rejected by Validate and by the text codecs.
type Role uint8

const (
	RoleUser Role = iota + 1
	RoleAgent
)

// Wire names. Generation services expect "model" for the agent side.
const (
	roleUserName  = "user"
	roleAgentName = "model"
)

// ParseRole converts a wire role name into a Role.
// "assistant" is accepted as an alias for the agent.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case roleUserName:
		return RoleUser, nil
	case roleAgentName, "assistant", "agent":
		return RoleAgent, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return roleUserName
	case RoleAgent:
		return roleAgentName
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Valid reports whether r is one of the two defined roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAgent
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Turn is one utterance in a conversation. Turns are values; callers never
// share a mutable Turn.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserTurn builds a turn spoken by the user.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AgentTurn builds a turn produced by the agent.
func AgentTurn(content string) Turn {
	return Turn{Role: RoleAgent, Content: content}
}

// Validate checks that the turn has a defined role.
func (t Turn) Validate() error {
	if !t.Role.Valid() {
		return fmt.Errorf("turn has invalid role %d", uint8(t.Role))
	}
	return nil
}

// CloneTurns returns a copy of turns that does not alias the input.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}
