package domain

import "errors"

const (
	MaxRoomLen = 64
	MaxRoleLen = 36
)

var (
	ErrRoomEmpty   = errors.New("room empty")
	ErrRoomTooLong = errors.New("room too long")
	ErrRoleTooLong = errors.New("role too long")
)

type (
	RoomName string
	Role     string
)

// RoomInfo is a read-only view of a room for status APIs.
type RoomInfo struct {
	Name        RoomName `json:"name"`
	Roles       []Role   `json:"roles"`
	MemberCount int      `json:"client_count"`
}

func ParseRoom(s string) (RoomName, error) {
	if len(s) == 0 {
		return "", ErrRoomEmpty
	}
	if len(s) > MaxRoomLen {
		return "", ErrRoomTooLong
	}
	return RoomName(s), nil
}

// ParseRole accepts the empty role; two role-less peers in one room replace each other.
func ParseRole(s string) (Role, error) {
	if len(s) > MaxRoleLen {
		return "", ErrRoleTooLong
	}
	return Role(s), nil
}
