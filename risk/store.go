package risk

import (
	"encoding/json"
	"os"
	"time"
)

// MetricsStore 持久化绩效指标。实现必须容忍频繁的小写入。
type MetricsStore interface {
	Save(m Metrics, at time.Time) error
	Load() (Metrics, bool, error)
}

// History 持久化文件的完整内容。
type History struct {
	Metrics     Metrics `json:"metrics"`
	LastUpdated string  `json:"last_updated"`
}

// FileStore 把指标写成单个 JSON 文件，写入走临时文件加改名，
// 崩溃时旧文件保持完整。
type FileStore struct {
	path string
}

// NewFileStore 创建文件存储，path 例如 trading_history.json。
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Save(m Metrics, at time.Time) error {
	data, err := json.MarshalIndent(History{
		Metrics:     m,
		LastUpdated: at.Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load 读取上次保存的指标。文件不存在不算错误，ok 为 false。
func (s *FileStore) Load() (Metrics, bool, error) {
	h, err := ReadHistory(s.path)
	if os.IsNotExist(err) {
		return Metrics{}, false, nil
	}
	if err != nil {
		return Metrics{}, false, err
	}
	return h.Metrics, true, nil
}

// ReadHistory 读取原始历史文件，供报表工具使用。
func ReadHistory(path string) (History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return History{}, err
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return History{}, err
	}
	return h, nil
}
