package main

import (
	"fmt"
	"strings"

	"desceval/internal/config"
	"desceval/internal/ipc"
	"desceval/internal/preflight"
)

func daemonLines(resp *ipc.StatusResponse, colorize bool) []string {
	lines := make([]string, 0, 6)
	if resp.Running {
		lines = append(lines, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", resp.PID), colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusError, "Not running", colorize))
	}

	redisKind := statusOK
	redisDetail := "Reachable"
	if !resp.RedisOK {
		redisKind = statusError
		redisDetail = strings.TrimSpace(resp.RedisDetail)
		if redisDetail == "" {
			redisDetail = "Unreachable"
		}
	} else if detail := strings.TrimSpace(resp.RedisDetail); detail != "" {
		redisDetail = detail
	}
	lines = append(lines, renderStatusLine("Redis", redisKind, redisDetail, colorize))

	workerKind := statusOK
	if resp.WorkersAlive == 0 {
		workerKind = statusInfo
		if resp.Running {
			workerKind = statusWarn
		}
	}
	lines = append(lines, renderStatusLine("Workers", workerKind, fmt.Sprintf("%d alive", resp.WorkersAlive), colorize))
	lines = append(lines, renderStatusLine("Queue depth", statusInfo, fmt.Sprintf("%d", resp.QueueDepth), colorize))
	lines = append(lines, renderStatusLine("Socket", statusInfo, resp.SocketPath, colorize))
	lines = append(lines, renderStatusLine("Store", statusInfo, resp.StorePath, colorize))
	return lines
}

func readinessLines(cfg *config.Config, colorize bool) []string {
	if cfg == nil {
		return []string{renderStatusLine("Configuration", statusWarn, "Unavailable", colorize)}
	}
	lines := make([]string, 0, 5)
	lines = append(lines, directoryStatusLine("Data directory", cfg.Paths.DataDir, colorize))
	lines = append(lines, directoryStatusLine("Log directory", cfg.Paths.LogDir, colorize))
	lines = append(lines, resultStatusLine(preflight.CheckWorkerBinary(cfg), statusError, colorize))
	lines = append(lines, resultStatusLine(preflight.CheckLLMFromConfig(cfg), statusWarn, colorize))
	lines = append(lines, resultStatusLine(preflight.CheckJudgeFromConfig(cfg), statusWarn, colorize))
	return lines
}

func directoryStatusLine(label, path string, colorize bool) string {
	result := preflight.CheckDirectoryAccess(label, path)
	if result.Passed {
		return renderStatusLine(label, statusOK, result.Detail, colorize)
	}
	return renderStatusLine(label, statusError, result.Detail, colorize)
}

func resultStatusLine(result preflight.Result, failKind statusKind, colorize bool) string {
	kind := failKind
	if result.Passed {
		kind = statusOK
	}
	return renderStatusLine(result.Name, kind, result.Detail, colorize)
}
