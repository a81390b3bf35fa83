package cache

import (
	"strings"
	"time"
)

// TTL classes by how quickly the underlying data changes.
const (
	TTLRealtime  = 10 * time.Second  // notifications
	TTLDynamic   = 30 * time.Second  // tasks
	TTLStable    = 60 * time.Second  // projects, categories
	TTLAggregate = 120 * time.Second // dashboard
)

func TasksTag(userID string) string         { return "tasks:" + userID }
func ProjectsTag(userID string) string      { return "projects:" + userID }
func CategoriesTag(userID string) string    { return "categories:" + userID }
func DashboardTag(userID string) string     { return "dashboard:" + userID }
func NotificationsTag(userID string) string { return "notifications:" + userID }

// Key builds a cache key from its parts, e.g. Key("tasks", uid, "open").
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
