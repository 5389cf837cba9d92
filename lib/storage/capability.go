// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"

	"github.com/bureau-foundation/repostore/lib/repoerr"
)

// Question is a capability question code. The high nibble selects the
// calling convention:
//
//   - 0x1000-0x1FFF (type 1) need no storage implementation bound and
//     are answered by a [Registry].
//   - 0x2000-0x2FFF (type 2) are about one storage implementation and
//     are answered by its [Driver], with or without an open instance.
//
// Asking a question through the wrong convention is an invalid
// argument.
type Question uint16

// Type 1 questions.
const (
	// QuestionListImplementations answers with the names of every
	// registered storage implementation.
	QuestionListImplementations Question = 0x1001
)

// Type 2 questions.
const (
	QuestionSupportsCompression   Question = 0x2001
	QuestionSupportsDelta         Question = 0x2002
	QuestionSupportsFullTextIndex Question = 0x2003
	QuestionSupportsMultiProcess  Question = 0x2004
	QuestionIsPersistent          Question = 0x2005
)

var questionNames = map[Question]string{
	QuestionListImplementations:   "list_implementations",
	QuestionSupportsCompression:   "supports_compression",
	QuestionSupportsDelta:         "supports_delta",
	QuestionSupportsFullTextIndex: "supports_full_text_index",
	QuestionSupportsMultiProcess:  "supports_multi_process",
	QuestionIsPersistent:          "is_persistent",
}

// IsType1 reports whether q is answered without a storage
// implementation.
func (q Question) IsType1() bool { return q >= 0x1000 && q <= 0x1fff }

// IsType2 reports whether q is answered by a storage implementation.
func (q Question) IsType2() bool { return q >= 0x2000 && q <= 0x2fff }

func (q Question) String() string {
	if name, ok := questionNames[q]; ok {
		return name
	}
	return fmt.Sprintf("question(0x%04x)", uint16(q))
}

// Type2Questions lists the type 2 questions every driver answers, in
// code order.
func Type2Questions() []Question {
	return []Question{
		QuestionSupportsCompression,
		QuestionSupportsDelta,
		QuestionSupportsFullTextIndex,
		QuestionSupportsMultiProcess,
		QuestionIsPersistent,
	}
}

// Answer is the reply to a capability question. Yes/no questions set
// Supported; list questions set Names.
type Answer struct {
	Supported bool     `json:"supported"`
	Names     []string `json:"names,omitempty"`
}

// Capabilities is a driver's fixed answer sheet for type 2 questions.
type Capabilities struct {
	Compression   bool
	Delta         bool
	FullTextIndex bool
	MultiProcess  bool
	Persistent    bool
}

// Answer returns the answer to a type 2 question.
func (c Capabilities) Answer(q Question) (Answer, error) {
	if !q.IsType2() {
		return Answer{}, fmt.Errorf("%s is not a storage implementation question: %w", q, repoerr.ErrInvalidArgument)
	}
	switch q {
	case QuestionSupportsCompression:
		return Answer{Supported: c.Compression}, nil
	case QuestionSupportsDelta:
		return Answer{Supported: c.Delta}, nil
	case QuestionSupportsFullTextIndex:
		return Answer{Supported: c.FullTextIndex}, nil
	case QuestionSupportsMultiProcess:
		return Answer{Supported: c.MultiProcess}, nil
	case QuestionIsPersistent:
		return Answer{Supported: c.Persistent}, nil
	default:
		return Answer{}, fmt.Errorf("%s: %w", q, repoerr.ErrNotSupported)
	}
}
