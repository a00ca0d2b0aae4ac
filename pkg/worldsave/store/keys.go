package store

import "strings"

// DefaultUser owns saves when no user is active.
const DefaultUser = "default"

// Key names under a slot.
const (
	playerKey   = "player"
	levelKey    = "level"
	slotInfoKey = "slotinfo"
	customDir   = "custom/"
	globalDir   = "_custom/"
)

// Keys maps a user and slot onto backend keys:
//
//	users/<user>/<slot>/player
//	users/<user>/<slot>/level
//	users/<user>/<slot>/slotinfo
//	users/<user>/<slot>/custom/<name>
//	users/<user>/_custom/<name>
type Keys struct {
	User string
	Slot string
}

// UserPrefix returns the prefix shared by every key of the user.
func (k Keys) UserPrefix() string {
	user := k.User
	if user == "" {
		user = DefaultUser
	}
	return "users/" + user + "/"
}

// Prefix returns the prefix shared by every key of the slot.
func (k Keys) Prefix() string { return k.UserPrefix() + k.Slot + "/" }

// Player returns the key of the player blob.
func (k Keys) Player() string { return k.Prefix() + playerKey }

// Level returns the key of the level blob.
func (k Keys) Level() string { return k.Prefix() + levelKey }

// SlotInfo returns the key of the slot metadata blob.
func (k Keys) SlotInfo() string { return k.Prefix() + slotInfoKey }

// Custom returns the key of a custom save object. Slot-scoped objects are
// removed with their slot; the others are shared by every slot of the user.
func (k Keys) Custom(name string, slotScoped bool) string {
	if slotScoped {
		return k.Prefix() + customDir + name
	}
	return k.UserPrefix() + globalDir + name
}

// slotOf returns the slot name when key is a slot info key of the user.
func (k Keys) slotOf(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, k.UserPrefix())
	if !ok {
		return "", false
	}
	slot, ok := strings.CutSuffix(rest, "/"+slotInfoKey)
	if !ok || slot == "" || strings.Contains(slot, "/") {
		return "", false
	}
	return slot, true
}

var slotReplacer = strings.NewReplacer(" ", "_", ".", "_", "/", "_", "\\", "_")

// SanitizeSlot makes name safe to use as a slot key segment.
func SanitizeSlot(name string) string {
	return slotReplacer.Replace(strings.TrimSpace(name))
}
