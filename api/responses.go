package api

import (
	"net/http"

	"github.com/swarmml/swarm/trainer"
)

// Response is implemented by replies that control their own status
// code and headers.
type Response interface {
	Code() int
	Headers() map[string]string
	Empty() bool
}

var (
	_ Response = (*healthRes)(nil)
	_ Response = (*versionRes)(nil)
	_ Response = (*roundRes)(nil)
	_ Response = (*leaderboardRes)(nil)
)

type healthRes struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (healthRes) Code() int {
	return http.StatusOK
}

func (healthRes) Headers() map[string]string {
	return map[string]string{}
}

func (healthRes) Empty() bool {
	return false
}

type versionRes struct {
	Version string `json:"version"`
}

func (versionRes) Code() int {
	return http.StatusOK
}

func (versionRes) Headers() map[string]string {
	return map[string]string{}
}

func (versionRes) Empty() bool {
	return false
}

type roundRes struct {
	Round int `json:"round"`
	Stage int `json:"stage"`
}

func (roundRes) Code() int {
	return http.StatusOK
}

func (roundRes) Headers() map[string]string {
	return map[string]string{}
}

func (roundRes) Empty() bool {
	return false
}

type leaderboardRes struct {
	Round   int                        `json:"round"`
	Stage   int                        `json:"stage"`
	Entries []trainer.LeaderboardEntry `json:"entries"`
}

func (leaderboardRes) Code() int {
	return http.StatusOK
}

func (leaderboardRes) Headers() map[string]string {
	return map[string]string{}
}

func (leaderboardRes) Empty() bool {
	return false
}
