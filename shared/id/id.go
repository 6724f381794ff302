// Package id provides ID generation helpers used across services.
package id

import (
	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLength = 21

const (
	PrefixConversation = "conv"
	PrefixMessage      = "msg"
	PrefixMemory       = "mem"
	PrefixMemoryUse    = "memu"
	PrefixToolUse      = "tu"
	PrefixInteraction  = "int"
	PrefixQueued       = "qm"
	PrefixSession      = "sess"
)

func New(prefix string) string {
	id, err := nanoid.New(DefaultLength)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewConversation() string { return New(PrefixConversation) }
func NewMessage() string      { return New(PrefixMessage) }
func NewMemory() string       { return New(PrefixMemory) }
func NewMemoryUse() string    { return New(PrefixMemoryUse) }
func NewToolUse() string      { return New(PrefixToolUse) }
func NewInteraction() string  { return New(PrefixInteraction) }
func NewQueued() string       { return New(PrefixQueued) }
func NewSession() string      { return New(PrefixSession) }
