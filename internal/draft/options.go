package draft

import "fmt"

// OptionList is an ordered list of answer options addressed by position.
type OptionList struct {
	items []Option
}

func NewOptionList(items []Option) *OptionList {
	return &OptionList{items: append([]Option(nil), items...)}
}

func (l *OptionList) Len() int { return len(l.items) }

func (l *OptionList) check(i int) error {
	if i < 0 || i >= len(l.items) {
		return fmt.Errorf("%w: option %d of %d", ErrIndexOutOfRange, i, len(l.items))
	}
	return nil
}

func (l *OptionList) At(i int) (Option, error) {
	if err := l.check(i); err != nil {
		return Option{}, err
	}
	return l.items[i], nil
}

func (l *OptionList) ReplaceAt(i int, opt Option) error {
	if err := l.check(i); err != nil {
		return err
	}
	l.items[i] = opt
	return nil
}

func (l *OptionList) SetText(i int, text string) error {
	if err := l.check(i); err != nil {
		return err
	}
	l.items[i].Text = text
	return nil
}

func (l *OptionList) RemoveAt(i int) error {
	if err := l.check(i); err != nil {
		return err
	}
	if len(l.items) == 1 {
		return ErrLastOption
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	return nil
}

func (l *OptionList) Append(opt Option) {
	l.items = append(l.items, opt)
}

// MarkCorrect flags option i as the only correct one.
func (l *OptionList) MarkCorrect(i int) error {
	if err := l.check(i); err != nil {
		return err
	}
	for j := range l.items {
		l.items[j].IsCorrect = j == i
	}
	return nil
}

// ToggleCorrect flips option i without touching the others.
func (l *OptionList) ToggleCorrect(i int) error {
	if err := l.check(i); err != nil {
		return err
	}
	l.items[i].IsCorrect = !l.items[i].IsCorrect
	return nil
}

func (l *OptionList) CorrectCount() int {
	n := 0
	for _, o := range l.items {
		if o.IsCorrect {
			n++
		}
	}
	return n
}

func (l *OptionList) Slice() []Option {
	return append([]Option(nil), l.items...)
}
