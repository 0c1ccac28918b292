package backend

import (
	"context"
	"errors"
	"math/rand"
	"strings"
)

// ErrNoMatch means the instant responder has nothing for this question
// and the dispatcher should try a real model.
var ErrNoMatch = errors.New("no instant response for question")

// category classifies a question for the canned responder.
type category int

const (
	catGreeting category = iota
	catKline
	catTraining
	catCrypto
	catSystem
)

var keywordRules = []struct {
	keywords []string
	cat      category
}{
	{[]string{"你好", "您好", "hello", "hi", "开始"}, catGreeting},
	{[]string{"k线", "蜡烛图", "图表", "价格"}, catKline},
	{[]string{"训练", "模型", "机器学习", "准确率", "参数"}, catTraining},
	{[]string{"比特币", "btc", "eth", "加密货币", "数字货币"}, catCrypto},
	{[]string{"系统", "功能", "怎么用", "如何", "页面"}, catSystem},
}

// responsesFor is exhaustive over category; adding a category without a
// response list is a compile-visible switch change, not a silent miss.
func responsesFor(c category) []string {
	switch c {
	case catGreeting:
		return []string{
			"你好！我是K线预测系统的AI助手。我可以帮你了解K线图、加密货币和模型训练相关的问题。",
			"欢迎使用K线预测系统！有什么我可以帮助你的吗？",
		}
	case catKline:
		return []string{
			"K线图是显示价格变化的图表，每根K线包含开盘价、收盘价、最高价和最低价四个信息。",
			"K线图可以帮助分析价格趋势。长期趋势看日K线，短期波动看小时或分钟K线。结合成交量分析效果更好。",
		}
	case catTraining:
		return []string{
			"模型训练需要大量历史数据。建议使用至少1000条K线数据，训练轮数50-100次比较合适。",
			"模型准确率60%以上就算不错了，金融市场预测本身就很困难，不要期望过高的准确率。",
		}
	case catCrypto:
		return []string{
			"加密货币市场24小时交易，波动性很大。投资前一定要做好风险管理。",
			"技术分析只是工具之一，还要结合基本面分析和市场情绪。",
		}
	case catSystem:
		return []string{
			"这个系统包含三个主要功能：K线分析、模型训练和模型管理。",
			"系统支持多种交易对和时间周期，可以根据需要选择合适的参数。",
		}
	}
	return nil
}

const riskDisclaimer = "\n\n注意：以上内容仅供参考，不构成投资建议。投资有风险，请谨慎决策。"

var helpText = "我是金融技术分析助手，可以回答K线、技术指标、交易策略等相关问题。"

// Canned is the zero-cost instant responder: exact help matches and
// keyword category matches answer immediately, everything else returns
// ErrNoMatch so a real model gets the question.
type Canned struct {
	id   string
	name string
}

// NewCanned creates the instant responder under the given identity.
func NewCanned(id, name string) *Canned {
	if id == "" {
		id = "instant"
	}
	return &Canned{id: id, name: name}
}

func (c *Canned) ID() string           { return c.id }
func (c *Canned) Name() string         { return c.name }
func (c *Canned) SizeClass() SizeClass { return SizeSmall }

// Load is free: there is nothing to initialize.
func (c *Canned) Load(ctx context.Context) ([]byte, error) {
	return []byte(`{"loaded":true}`), nil
}

// Generate answers exact help requests and keyword category matches,
// streaming the text rune by rune through onChunk.
func (c *Canned) Generate(ctx context.Context, question string, onChunk func(string)) (string, error) {
	q := strings.ToLower(strings.TrimSpace(question))

	if q == "帮助" || q == "help" {
		stream(helpText, onChunk)
		return helpText, nil
	}

	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(q, kw) {
				choices := responsesFor(rule.cat)
				text := choices[rand.Intn(len(choices))]
				if rule.cat == catCrypto || rule.cat == catTraining {
					text += riskDisclaimer
				}
				stream(text, onChunk)
				return text, nil
			}
		}
	}
	return "", ErrNoMatch
}

func stream(text string, onChunk func(string)) {
	if onChunk == nil {
		return
	}
	for _, r := range text {
		onChunk(string(r))
	}
}
