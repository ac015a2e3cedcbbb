package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"assessment-session-service/internal/domain"
	"assessment-session-service/internal/question"
)

// StaticBank is a question.Source backed by an in-memory map (useful for tests/demos).
type StaticBank struct {
	mu     sync.RWMutex
	items  map[string]question.RawItem
	topics map[string][]string
}

// BankDocument is the file form of a static bank: items plus topic lists of item ids.
type BankDocument struct {
	Items  []question.RawItem  `json:"items"`
	Topics map[string][]string `json:"topics"`
}

func NewStaticBank() *StaticBank {
	return &StaticBank{
		items:  make(map[string]question.RawItem),
		topics: make(map[string][]string),
	}
}

// LoadBankFile reads a BankDocument from a JSON file.
func LoadBankFile(path string) (*StaticBank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc BankDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode question bank %s: %w", path, err)
	}
	bank := NewStaticBank()
	for _, item := range doc.Items {
		bank.Put(item)
	}
	for topic, ids := range doc.Topics {
		bank.topics[topic] = append([]string(nil), ids...)
	}
	return bank, nil
}

// Put adds or replaces an item.
func (b *StaticBank) Put(item question.RawItem) {
	b.mu.Lock()
	b.items[item.ID] = item
	b.mu.Unlock()
}

// AddTopic appends items to a topic, registering them as well.
func (b *StaticBank) AddTopic(topic question.Topic, items ...question.RawItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := topic.String()
	for _, item := range items {
		b.items[item.ID] = item
		b.topics[key] = append(b.topics[key], item.ID)
	}
}

func (b *StaticBank) FetchTopic(_ context.Context, topic question.Topic) ([]question.RawItem, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids, ok := b.topics[topic.String()]
	if !ok {
		return nil, fmt.Errorf("topic %s: %w", topic, domain.ErrQuestionNotFound)
	}
	items := make([]question.RawItem, 0, len(ids))
	for _, id := range ids {
		item, ok := b.items[id]
		if !ok {
			item = question.RawItem{ID: id, Err: domain.ErrQuestionNotFound}
		}
		items = append(items, item)
	}
	return items, nil
}

func (b *StaticBank) FetchItem(_ context.Context, slot question.Slot) (question.RawItem, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	item, ok := b.items[slot.ID]
	if !ok {
		return question.RawItem{}, fmt.Errorf("question %s: %w", slot.ID, domain.ErrQuestionNotFound)
	}
	return item, nil
}

// SampleBank provides a minimal bank covering every question type; swap it
// for the Postgres source in production.
func SampleBank() *StaticBank {
	bank := NewStaticBank()
	bank.AddTopic(question.Topic{ClassLevel: "5", Subject: "math", Topic: "fractions"},
		question.RawItem{ID: "frac-1", Type: domain.MultipleChoice, Payload: json.RawMessage(
			`{"question":"What is 1/2 + 1/4?","options":["1/4","2/4","3/4","1"],"answer":"3/4","hint":"Use a common denominator"}`)},
		question.RawItem{ID: "frac-2", Type: domain.MultipleChoice, Payload: json.RawMessage(
			`{"question":"Which fraction is largest?","options":["1/3","2/5","3/8"],"correctAnswer":"2/5"}`)},
		question.RawItem{ID: "frac-audio", Type: domain.Audio, Payload: json.RawMessage(
			`{"question":"How many slices were eaten?","audioUrl":"https://cdn.example.com/pizza.mp3","options":["2","3","4"],"answer":"3"}`)},
		question.RawItem{ID: "frac-video", Type: domain.Video, SubIndex: 1, Payload: json.RawMessage(
			`{"videoUrl":"https://cdn.example.com/fractions.mp4","questions":[{"question":"What was cut first?","options":["cake","pie"],"answer":"pie"},{"question":"Into how many parts?","options":["4","8"],"answer":"8"}]}`)},
		question.RawItem{ID: "frac-puzzle", Type: domain.Puzzle, Payload: json.RawMessage(
			`{"title":"Match the fractions","puzzleKind":"matching"}`)},
	)
	return bank
}
