package parser

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/cardwise/internal/domain"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	contextPrefix  = "C:"

	coursePrefix = "Course:"
	modulePrefix = "Module:"
	lessonPrefix = "Lesson:"
)

// Note is a parsed note file: the cards it defines and the lesson they
// belong to.
type Note struct {
	CourseID string
	ModuleID string
	LessonID string
	Cards    []domain.Card
}

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
	readingContext
)

// ParseFile reads a file from the given path and extracts its note.
func ParseFile(path string) (Note, error) {
	file, err := os.Open(path)
	if err != nil {
		return Note{}, err
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads from an io.Reader and extracts the note's header and cards.
// Header lines are only recognised outside a card.
func Parse(r io.Reader) (Note, error) {
	scanner := bufio.NewScanner(r)
	var note Note
	var currentCard domain.Card
	var currentBlock []string
	currentState := seeking

	flushBlock := func() {
		if len(currentBlock) == 0 {
			return
		}
		content := strings.TrimRight(strings.Join(currentBlock, "\n"), "\n")
		switch currentState {
		case readingQuestion:
			currentCard.Question = content
		case readingAnswer:
			currentCard.Answer = content
		case readingContext:
			currentCard.Context = content
		}
		currentBlock = nil
	}

	finishCard := func() {
		flushBlock()
		if currentCard.Question != "" {
			note.Cards = append(note.Cards, currentCard)
		}
		currentCard = domain.Card{}
		currentState = seeking
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "---" {
			finishCard()
			continue
		}

		if currentState == seeking {
			if v, ok := cut(line, coursePrefix); ok {
				note.CourseID = strings.TrimSpace(v)
				continue
			}
			if v, ok := cut(line, modulePrefix); ok {
				note.ModuleID = strings.TrimSpace(v)
				continue
			}
			if v, ok := cut(line, lessonPrefix); ok {
				note.LessonID = strings.TrimSpace(v)
				continue
			}
		}

		if v, ok := cut(line, questionPrefix); ok {
			// A new question always starts a new card
			if currentState != seeking {
				finishCard()
			}
			currentState = readingQuestion
			currentBlock = append(currentBlock, v)
		} else if v, ok := cut(line, answerPrefix); ok {
			flushBlock()
			currentState = readingAnswer
			currentBlock = append(currentBlock, v)
		} else if v, ok := cut(line, contextPrefix); ok {
			flushBlock()
			currentState = readingContext
			currentBlock = append(currentBlock, v)
		} else if currentState != seeking {
			currentBlock = append(currentBlock, line)
		}
	}

	finishCard() // Finish the very last card in the file

	if err := scanner.Err(); err != nil {
		return Note{}, err
	}
	return note, nil
}

// cut strips prefix and a single following space.
func cut(line, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(line, prefix)
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(rest, " "), true
}
