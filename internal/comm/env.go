package comm

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables set by the launcher for a distributed run. Every
// rank of the world runs the same binary with its own FANOUT_RANK.
const (
	EnvWorldSize = "FANOUT_WORLD_SIZE"
	EnvRank      = "FANOUT_RANK"
	EnvCoordAddr = "FANOUT_COORD_ADDR"
)

// Launched reports whether this process was started under a distributed
// launcher, meaning a usable world can be built from the environment.
// Malformed values count as "not launched"; probing never fails hard.
func Launched() bool {
	size := WorldSizeFromEnv()
	rank := RankFromEnv()
	return size >= 2 && rank >= 0 && rank < size && os.Getenv(EnvCoordAddr) != ""
}

// WorldSizeFromEnv returns the launcher-provided world size, or 0.
func WorldSizeFromEnv() int {
	return envInt(EnvWorldSize, 0)
}

// RankFromEnv returns the launcher-provided rank of this process, or 0.
func RankFromEnv() int {
	return envInt(EnvRank, 0)
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// FromEnv builds the World described by the launcher environment. Rank 0
// listens on EnvCoordAddr and waits for the other ranks to dial in; every
// other rank dials the coordinator and introduces itself.
func FromEnv() (World, error) {
	if !Launched() {
		return nil, fmt.Errorf("comm: no launcher environment (%s, %s, %s)",
			EnvWorldSize, EnvRank, EnvCoordAddr)
	}
	size := WorldSizeFromEnv()
	rank := RankFromEnv()
	addr := os.Getenv(EnvCoordAddr)
	if rank == 0 {
		return listenCoordinator(addr, size)
	}
	return dialWorker(addr, rank, size)
}
