// Package id provides prefixed ID generation used across the core.
package id

import (
	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLength = 21

const (
	PrefixUser          = "usr"
	PrefixAgent         = "agt"
	PrefixConversation  = "conv"
	PrefixFrame         = "frm"
	PrefixMessage       = "msg"
	PrefixSkill         = "skl"
	PrefixMCPServer     = "mcp"
	PrefixFaceIdentity  = "face"
	PrefixFacePhoto     = "fph"
	PrefixApproval      = "appr"
	PrefixOrchestration = "orch"
	PrefixHop           = "hop"
	PrefixToolCall      = "tc"
)

func New(prefix string) string {
	id, err := nanoid.New(DefaultLength)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewUser() string          { return New(PrefixUser) }
func NewAgent() string         { return New(PrefixAgent) }
func NewConversation() string  { return New(PrefixConversation) }
func NewFrame() string         { return New(PrefixFrame) }
func NewMessage() string       { return New(PrefixMessage) }
func NewSkill() string         { return New(PrefixSkill) }
func NewMCPServer() string     { return New(PrefixMCPServer) }
func NewFaceIdentity() string  { return New(PrefixFaceIdentity) }
func NewFacePhoto() string     { return New(PrefixFacePhoto) }
func NewApproval() string      { return New(PrefixApproval) }
func NewOrchestration() string { return New(PrefixOrchestration) }
func NewHop() string           { return New(PrefixHop) }
func NewToolCall() string      { return New(PrefixToolCall) }
