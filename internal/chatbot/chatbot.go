package chatbot

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Corpus 语料：若干意图 + 兜底应答
type Corpus struct {
	Intents   []Intent `yaml:"intents"`
	Fallbacks []string `yaml:"fallbacks"`
}

// Intent 单个意图：触发语句与候选应答
type Intent struct {
	Name       string   `yaml:"name"`
	Utterances []string `yaml:"utterances"`
	Answers    []string `yaml:"answers"`
}

// Bot 关键词意图问答机器人
// 按词袋重合度给每个意图打分，低于阈值走兜底应答
type Bot struct {
	intents   []trainedIntent
	fallbacks []string
	threshold float64
}

// trainedIntent 训练后的意图：触发语句已分词
type trainedIntent struct {
	name    string
	tokens  [][]string
	answers []string
}

// LoadBot 从语料文件训练机器人
func LoadBot(corpusFile string, threshold float64) (*Bot, error) {
	data, err := os.ReadFile(corpusFile)
	if err != nil {
		return nil, fmt.Errorf("读取语料文件失败: %w", err)
	}
	var corpus Corpus
	if err := yaml.Unmarshal(data, &corpus); err != nil {
		return nil, fmt.Errorf("解析语料文件失败: %w", err)
	}
	return NewBot(corpus, threshold)
}

// NewBot 从语料训练机器人
func NewBot(corpus Corpus, threshold float64) (*Bot, error) {
	if len(corpus.Intents) == 0 {
		return nil, fmt.Errorf("语料为空")
	}
	bot := &Bot{
		fallbacks: corpus.Fallbacks,
		threshold: threshold,
	}
	if len(bot.fallbacks) == 0 {
		bot.fallbacks = []string{"Sorry, I don't understand that yet."}
	}
	for _, intent := range corpus.Intents {
		trained := trainedIntent{name: intent.Name, answers: intent.Answers}
		for _, u := range intent.Utterances {
			if tokens := tokenize(u); len(tokens) > 0 {
				trained.tokens = append(trained.tokens, tokens)
			}
		}
		if len(trained.tokens) == 0 || len(trained.answers) == 0 {
			continue
		}
		bot.intents = append(bot.intents, trained)
	}
	if len(bot.intents) == 0 {
		return nil, fmt.Errorf("语料中没有可用意图")
	}
	return bot, nil
}

// Reply 对输入给出应答
func (b *Bot) Reply(input string) string {
	tokens := tokenize(input)
	if len(tokens) == 0 {
		return b.fallback()
	}

	var best *trainedIntent
	var bestScore float64
	for i := range b.intents {
		score := b.intents[i].score(tokens)
		if score > bestScore {
			bestScore = score
			best = &b.intents[i]
		}
	}
	if best == nil || bestScore < b.threshold {
		return b.fallback()
	}
	return best.answers[rand.Intn(len(best.answers))]
}

// fallback 随机兜底应答
func (b *Bot) fallback() string {
	return b.fallbacks[rand.Intn(len(b.fallbacks))]
}

// score 输入与该意图所有触发语句的最高重合度
func (t *trainedIntent) score(input []string) float64 {
	inputSet := make(map[string]struct{}, len(input))
	for _, tok := range input {
		inputSet[tok] = struct{}{}
	}

	var best float64
	for _, utterance := range t.tokens {
		matched := 0
		for _, tok := range utterance {
			if _, ok := inputSet[tok]; ok {
				matched++
			}
		}
		score := float64(matched) / float64(len(utterance))
		if score > best {
			best = score
		}
	}
	return best
}

// tokenize 小写化并按非字母数字切词
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
