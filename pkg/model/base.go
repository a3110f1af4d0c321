package model

import (
	"time"
)

// BaseModel 基础模型，替代 gorm.Model
// 主键为自增整数，同时作为支付渠道侧的账户引用，因此不使用软删除
type BaseModel struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime;<-:create" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"-"`
}
