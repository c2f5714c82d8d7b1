package main

import (
	"os"
	"regexp"

	"github.com/bigkaa/goartstore/ingest-module/internal/config"
)

var (
	// <deployment>-<replicaset hash>-<pod suffix>
	deploymentPod = regexp.MustCompile(`^(.+)-[a-z0-9]{6,10}-[a-z0-9]{5}$`)
	// <statefulset>-<ordinal>
	statefulSetPod = regexp.MustCompile(`^(.+)-\d+$`)
)

// dephealthName возвращает имя вершины графа зависимостей:
// DEPHEALTH_NAME, иначе владелец пода по hostname, иначе IM_SERVICE_ID.
func dephealthName(cfg *config.Config) string {
	if cfg.DephealthName != "" {
		return cfg.DephealthName
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return parseOwnerName(host)
	}
	return cfg.ServiceID
}

// parseOwnerName извлекает имя Deployment или StatefulSet из hostname пода.
func parseOwnerName(hostname string) string {
	if m := deploymentPod.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	if m := statefulSetPod.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	return hostname
}
