// Copyright 2026 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logging

import (
	"encoding/csv"
	"fmt"
	"os"
	"path"
	"reflect"
	"strings"

	"github.com/linkdata/deadlock"
)

// CSVLogger writes one row per value, with a header taken from the field
// names of T. Fields are formatted with %v.
type CSVLogger[T any] struct {
	mu       deadlock.Mutex
	filename string
	f        *os.File
	w        *csv.Writer
	rows     int
}

func NewCSVLogger[T any](dir, filename string) (*CSVLogger[T], error) {
	if !strings.HasSuffix(filename, ".csv") {
		filename = filename + ".csv"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	filename = path.Join(dir, filename)
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	columns := make([]string, 0)
	t := reflect.TypeFor[T]()
	for i := range t.NumField() {
		columns = append(columns, t.Field(i).Name)
	}

	w := csv.NewWriter(f)
	if err = w.Write(columns); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &CSVLogger[T]{
		filename: filename,
		f:        f,
		w:        w,
	}, nil
}

func (l *CSVLogger[T]) Write(value *T) error {
	v := reflect.ValueOf(value).Elem()
	t := v.Type()

	row := make([]string, t.NumField())
	for i := range t.NumField() {
		row[i] = fmt.Sprintf("%v", v.Field(i).Interface())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.w.Write(row); err != nil {
		return err
	}
	l.w.Flush()
	l.rows++
	return l.w.Error()
}

func (l *CSVLogger[T]) Filename() string {
	return l.filename
}

func (l *CSVLogger[T]) Rows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows
}

func (l *CSVLogger[T]) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.w.Flush()
	return l.f.Close()
}
