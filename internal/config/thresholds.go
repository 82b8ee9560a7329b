package config

import (
	"fmt"
	"os"

	"wisefido-surgical/internal/models"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// thresholdsFile YAML 中缺失的键保持为 nil
type thresholdsFile struct {
	MaxForce             *float64 `yaml:"max_force"`
	MaxVelocity          *float64 `yaml:"max_velocity"`
	MinSafeDistance      *float64 `yaml:"min_safe_distance"`
	MaxJointAngle        *float64 `yaml:"max_joint_angle"`
	SafetyScoreThreshold *float64 `yaml:"safety_score_threshold"`
}

// LoadThresholds 读取 YAML 阈值文件
// 文件不可读或格式错误时使用全部默认值；缺失的键按键回退到默认值
func LoadThresholds(path string, logger *zap.Logger) models.SafetyThresholds {
	th := models.DefaultSafetyThresholds()
	if path == "" {
		return th
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Failed to read thresholds file, using defaults",
			zap.String("path", path),
			zap.Error(err),
		)
		return th
	}

	parsed, err := ParseThresholds(raw)
	if err != nil {
		logger.Warn("Failed to parse thresholds file, using defaults",
			zap.String("path", path),
			zap.Error(err),
		)
		return th
	}
	return parsed
}

// ParseThresholds 解析 YAML 阈值，缺失的键使用默认值
func ParseThresholds(raw []byte) (models.SafetyThresholds, error) {
	th := models.DefaultSafetyThresholds()

	var f thresholdsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return th, fmt.Errorf("parse thresholds: %w", err)
	}

	apply := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	apply(&th.MaxForce, f.MaxForce)
	apply(&th.MaxVelocity, f.MaxVelocity)
	apply(&th.MinSafeDistance, f.MinSafeDistance)
	apply(&th.MaxJointAngle, f.MaxJointAngle)
	apply(&th.SafetyScoreThreshold, f.SafetyScoreThreshold)
	return th, nil
}
