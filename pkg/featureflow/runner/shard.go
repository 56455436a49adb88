package runner

import (
	"slices"

	"github.com/spaolacci/murmur3"
)

// shardOf maps identity to one of n shards.
func shardOf(identity string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(murmur3.Sum32([]byte(identity)) % uint32(n))
}

// shard spreads identities over n shards. Identities keep their input
// order inside a shard.
func shard(identities []string, n int) [][]string {
	n = max(n, 1)
	shards := make([][]string, n)
	for _, id := range identities {
		i := shardOf(id, n)
		shards[i] = append(shards[i], id)
	}
	return slices.DeleteFunc(shards, func(s []string) bool { return len(s) == 0 })
}
