package notes

import (
	"context"
	"fmt"

	"github.com/kalambet/semnotes/internal/storage"
)

// SampleNote is a title/description pair used to seed a fresh install.
type SampleNote struct {
	Title       string
	Description string
}

// SampleNotes are five notes on distinct topics, useful for checking that
// semantic search separates them.
var SampleNotes = []SampleNote{
	{
		Title:       "工作会议安排",
		Description: "下周一上午10点在会议室A举行项目进展讨论会，请各部门负责人准备好各自的进度报告和下阶段计划。会议预计持续2小时，请准时参加。",
	},
	{
		Title:       "学习计划",
		Description: "这个月我计划学习Python高级编程技巧，包括异步编程、元类和装饰器等概念。同时还要完成FastAPI框架的深入学习，掌握依赖注入和中间件开发。",
	},
	{
		Title:       "购物清单",
		Description: "需要购买的日用品：洗发水、沐浴露、牙膏、卫生纸。食材：鸡胸肉、西兰花、胡萝卜、洋葱、大蒜、橄榄油、意大利面。水果：苹果、香蕉、橙子。",
	},
	{
		Title:       "旅行计划",
		Description: "暑假计划去云南旅行7天，主要景点包括大理、丽江和香格里拉。需要提前预订机票和酒店，准备好登山和摄影装备，查阅当地美食推荐。",
	},
	{
		Title:       "健身记录",
		Description: "今天完成了30分钟的有氧运动和40分钟的力量训练。有氧部分包括跑步和跳绳，力量训练做了胸肌、背部和腿部的训练，共计8组动作。感觉良好，下周增加训练强度。",
	},
}

// Seed adds SampleNotes through CreateNote, so each one is indexed like any
// other note. Existing notes are kept.
func (s *Service) Seed(ctx context.Context) ([]storage.Note, error) {
	created := make([]storage.Note, 0, len(SampleNotes))
	for _, sn := range SampleNotes {
		n, err := s.CreateNote(ctx, sn.Title, sn.Description)
		if err != nil {
			return created, fmt.Errorf("seeding %q: %w", sn.Title, err)
		}
		created = append(created, n)
	}
	return created, nil
}
