//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
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
//
package ourutil

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/golang/glog"
)

func Reportf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f+"\n", args...)
	glog.Infof(f, args...)
}

func Prompt(text string) string {
	fmt.Fprintf(os.Stderr, "%s ", text)
	ans, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.TrimSpace(ans)
}

// Returns a map from regexp capture group name to the corresponding matched
// string.
// A return value of nil indicates no match.
func FindNamedSubmatches(r *regexp.Regexp, s string) map[string]string {
	matches := r.FindStringSubmatch(s)
	if matches == nil {
		return nil
	}

	result := make(map[string]string)
	for i, name := range r.SubexpNames()[1:] {
		result[name] = matches[i+1]
	}
	return result
}

const spinnerChars = `-\|/`

// Spinner shows that a long operation is alive.
type Spinner struct {
	w io.Writer
	n int
}

func NewSpinner(w io.Writer) *Spinner {
	return &Spinner{w: w}
}

func (s *Spinner) Spin() {
	fmt.Fprintf(s.w, "\b%c", spinnerChars[s.n%len(spinnerChars)])
	s.n++
}

// Done replaces the spinner with the outcome of the operation.
func (s *Spinner) Done(err error) {
	if s.n > 0 {
		fmt.Fprintf(s.w, "\b")
	}
	if err == nil {
		color.New(color.FgGreen).Fprintf(s.w, "done!\n")
	} else {
		color.New(color.FgRed).Fprintf(s.w, "FAILED!\n")
	}
}
