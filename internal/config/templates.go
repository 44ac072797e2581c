package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# fundwatch configuration

[server]
# Listen address for the HTTP API and push stream
addr = ":3001"
shutdown_timeout = "10s"

[store]
# SQLite database file (default: <config dir>/fundwatch.db)
# path = ""

[scheduler]
# Alert check cadence
interval = "5m"
# Pause between two instrument fetches
fetch_pause = "200ms"
# Minimum time between two firings of the same rule
cooldown = "1h"
# Trading window, inclusive, Monday to Friday
window_start = "09:30"
window_end = "15:00"
timezone = "Asia/Shanghai"
# Goroutines used for rule evaluation
workers = 4

[feeds]
timeout = "10s"
user_agent = "Mozilla/5.0 (compatible; fundwatch/1.0)"
quote_url = "https://fundgz.1234567.com.cn/js/"
confirmation_url = "https://qt.gtimg.cn/"
# Consecutive failures before a source is short-circuited
failure_threshold = 5
open_timeout = "1m"
# Outbound requests per second for each source (0 disables the limit)
rate_limit = 5.0
burst = 5

[push]
keep_alive = "30s"
# Frames buffered per connection before it is dropped
buffer_size = 32

[redis]
# Leave addr empty to deliver only to connections held by this process
addr = ""
password = ""
db = 0
channel = "fundwatch:push"

[auth]
# Shared secret used to verify stream tokens (or FUNDWATCH_JWT_SECRET)
jwt_secret = ""
# Key expected in X-Admin-Key (or FUNDWATCH_ADMIN_KEY)
admin_key = ""

[chat]
api_key = ""
base_url = "https://ark.cn-beijing.volces.com/api/v3"
model = "doubao-1-5-pro-32k-250115"

[audit]
# JSON lines record of operator messages, rule changes and rejected access
enabled = true
max_size = 10
max_backups = 10
max_age = 90

[log]
level = "info"
console = true
file = true
max_size = 100
max_backups = 7
max_age = 30
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
