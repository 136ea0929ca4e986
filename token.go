/*
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cassring

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/cassring/cassring/internal/murmur"
)

// Partitioner hashes partition keys to tokens.
type Partitioner interface {
	Name() string
	Hash([]byte) Token
	ParseString(string) Token
}

// Token is a position on the ring. Tokens of the same partitioner are
// totally ordered by Less.
type Token interface {
	fmt.Stringer
	Less(Token) bool
}

// NewPartitioner returns the partitioner for the class name reported by
// system.local, e.g. "org.apache.cassandra.dht.Murmur3Partitioner".
func NewPartitioner(name string) (Partitioner, error) {
	switch {
	case strings.HasSuffix(name, "Murmur3Partitioner"):
		return Murmur3Partitioner{}, nil
	case strings.HasSuffix(name, "OrderedPartitioner"), strings.HasSuffix(name, "OrderPreservingPartitioner"):
		return OrderedPartitioner{}, nil
	case strings.HasSuffix(name, "RandomPartitioner"):
		return RandomPartitioner{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedPartitioner, name)
}

// Murmur3Partitioner is Cassandra's default partitioner.
type Murmur3Partitioner struct{}

type murmur3Token int64

func (p Murmur3Partitioner) Name() string {
	return "Murmur3Partitioner"
}

// Hash returns h1 of the little-endian 128-bit murmur3 hash.
func (p Murmur3Partitioner) Hash(partitionKey []byte) Token {
	return murmur3Token(murmur.Murmur3H1(partitionKey))
}

func (p Murmur3Partitioner) ParseString(str string) Token {
	val, _ := strconv.ParseInt(str, 10, 64)
	return murmur3Token(val)
}

func (m murmur3Token) String() string {
	return strconv.FormatInt(int64(m), 10)
}

func (m murmur3Token) Less(token Token) bool {
	return m < token.(murmur3Token)
}

// OrderedPartitioner covers ByteOrderedPartitioner and
// OrderPreservingPartitioner, the partition key is the token.
type OrderedPartitioner struct{}

type orderedToken string

func (p OrderedPartitioner) Name() string {
	return "OrderedPartitioner"
}

func (p OrderedPartitioner) Hash(partitionKey []byte) Token {
	return orderedToken(partitionKey)
}

func (p OrderedPartitioner) ParseString(str string) Token {
	return orderedToken(str)
}

func (o orderedToken) String() string {
	return string(o)
}

func (o orderedToken) Less(token Token) bool {
	return o < token.(orderedToken)
}

// RandomPartitioner hashes keys with MD5.
type RandomPartitioner struct{}

type randomToken big.Int

func (r RandomPartitioner) Name() string {
	return "RandomPartitioner"
}

// 2 ** 128
var maxHashInt, _ = new(big.Int).SetString("340282366920938463463374607431768211456", 10)

func (r RandomPartitioner) Hash(partitionKey []byte) Token {
	sum := md5.Sum(partitionKey)
	val := new(big.Int)
	val.SetBytes(sum[:])
	if sum[0] > 127 {
		val.Sub(val, maxHashInt)
		val.Abs(val)
	}

	return (*randomToken)(val)
}

func (r RandomPartitioner) ParseString(str string) Token {
	val := new(big.Int)
	val.SetString(str, 10)
	return (*randomToken)(val)
}

func (r *randomToken) String() string {
	return (*big.Int)(r).String()
}

func (r *randomToken) Less(token Token) bool {
	return (*big.Int)(r).Cmp((*big.Int)(token.(*randomToken))) < 0
}

func tokensEqual(a, b Token) bool {
	return !a.Less(b) && !b.Less(a)
}

// TokenOwner pairs a ring token with its primary replica.
type TokenOwner struct {
	Token Token
	Host  *HostInfo
}

func (t TokenOwner) String() string {
	return fmt.Sprintf("{token=%v host=%v}", t.Token, t.Host.Endpoint())
}

// tokenRing is the sorted, deduplicated list of tokens of all hosts.
// The range of an entry starts after the preceding token and ends with (and
// includes) its own token; the first range wraps around the ring.
type tokenRing []TokenOwner

func (t tokenRing) Len() int           { return len(t) }
func (t tokenRing) Less(i, j int) bool { return t[i].Token.Less(t[j].Token) }
func (t tokenRing) Swap(i, j int)      { t[i], t[j] = t[j], t[i] }

// buildTokenRing parses the tokens of hosts, which must be sorted by
// endpoint. Duplicate tokens keep the first owner and are reported in dups.
func buildTokenRing(p Partitioner, hosts []*HostInfo) (ring tokenRing, dups []TokenOwner) {
	for _, host := range hosts {
		for _, strToken := range host.Tokens() {
			ring = append(ring, TokenOwner{Token: p.ParseString(strToken), Host: host})
		}
	}
	// stable keeps endpoint order among equal tokens
	sort.Stable(ring)

	if len(ring) < 2 {
		return ring, nil
	}
	out := ring[:1]
	for _, owner := range ring[1:] {
		if tokensEqual(out[len(out)-1].Token, owner.Token) {
			dups = append(dups, owner)
			continue
		}
		out = append(out, owner)
	}
	return out, dups
}

// search returns the index of the first token >= token, wrapping to 0.
func (t tokenRing) search(token Token) int {
	p := sort.Search(len(t), func(i int) bool {
		return !t[i].Token.Less(token)
	})
	if p == len(t) {
		p = 0
	}
	return p
}

func (t tokenRing) String() string {
	buf := &bytes.Buffer{}
	buf.WriteString("TokenRing{")
	sep := ""
	for i, th := range t {
		buf.WriteString(sep)
		sep = ","
		buf.WriteString("\n\t[")
		buf.WriteString(strconv.Itoa(i))
		buf.WriteString("]")
		buf.WriteString(th.Token.String())
		buf.WriteString(":")
		buf.WriteString(th.Host.Endpoint())
	}
	buf.WriteString("\n}")
	return buf.String()
}
