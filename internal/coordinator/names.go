// internal/coordinator/names.go
package coordinator

import "hash/fnv"

var nameAdjectives = []string{
	"Amber", "Bold", "Brisk", "Clever", "Daring", "Eager", "Fuzzy", "Gilded",
	"Hasty", "Ivory", "Jolly", "Keen", "Lucky", "Mellow", "Nimble", "Plucky",
	"Quiet", "Rapid", "Sly", "Tidy", "Vivid", "Witty",
}

var nameNouns = []string{
	"Badger", "Comet", "Falcon", "Gecko", "Heron", "Lynx", "Marmot", "Otter",
	"Panda", "Quokka", "Raven", "Shark", "Tapir", "Viper", "Walrus", "Yak",
}

// GenerateName derives a stable, readable display name from an opaque player
// id, for players who never set one themselves.
func GenerateName(id string) string {
	h := fnv.New32a()
	h.Write([]byte(id))
	sum := h.Sum32()
	adj := nameAdjectives[sum%uint32(len(nameAdjectives))]
	noun := nameNouns[(sum/uint32(len(nameAdjectives)))%uint32(len(nameNouns))]
	return adj + noun
}
