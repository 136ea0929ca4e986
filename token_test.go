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
	"errors"
	"math/big"
	"sort"
	"strconv"
	"testing"
)

func TestMurmur3Partitioner(t *testing.T) {
	token := Murmur3Partitioner{}.ParseString("-1053604476080545076")

	if "-1053604476080545076" != token.String() {
		t.Errorf("Expected '-1053604476080545076' but was '%s'", token)
	}

	token = Murmur3Partitioner{}.Hash([]byte("prefix\x00"))
	assertEqual(t, "murmur3 token", "-5156414768376541762", token.String())
}

func TestMurmur3Token(t *testing.T) {
	if murmur3Token(42).Less(murmur3Token(42)) {
		t.Errorf("Expected Less to return false, but was true")
	}
	if !murmur3Token(-42).Less(murmur3Token(42)) {
		t.Errorf("Expected Less to return true, but was false")
	}
	if murmur3Token(42).Less(murmur3Token(-42)) {
		t.Errorf("Expected Less to return false, but was true")
	}
}

func TestOrderedPartitioner(t *testing.T) {
	p := OrderedPartitioner{}
	pk := []byte{0, 0, 0, 1}
	token := p.Hash(pk)
	parsedToken := p.ParseString(token.String())

	assertEqual(t, "round trip", token, parsedToken)
	assertEqual(t, "token bytes", string(pk), string(token.(orderedToken)))
}

func TestOrderedToken(t *testing.T) {
	if orderedToken([]byte{0, 0, 4, 2}).Less(orderedToken([]byte{0, 0, 4, 2})) {
		t.Errorf("Expected Less to return false, but was true")
	}
	if !orderedToken([]byte{0, 0, 3}).Less(orderedToken([]byte{0, 0, 4, 2})) {
		t.Errorf("Expected Less to return true, but was false")
	}
	if orderedToken([]byte{0, 0, 4, 2}).Less(orderedToken([]byte{0, 0, 3})) {
		t.Errorf("Expected Less to return false, but was true")
	}
}

func TestRandomPartitioner(t *testing.T) {
	p := RandomPartitioner{}
	token := p.Hash([]byte{0, 0, 0, 1})
	parsedToken := p.ParseString(token.String())

	if (*big.Int)(token.(*randomToken)).Cmp((*big.Int)(parsedToken.(*randomToken))) != 0 {
		t.Errorf("Failed to convert to and from a string, expected %v but was %v", token, parsedToken)
	}
}

func TestRandomPartitionerMatchesReference(t *testing.T) {
	// example taken from datastax python driver
	//    >>> from cassandra.metadata import MD5Token
	//    >>> MD5Token.hash_fn("test")
	//    12707736894140473154801792860916528374L
	var p RandomPartitioner
	expect := "12707736894140473154801792860916528374"
	actual := p.Hash([]byte("test")).String()
	if actual != expect {
		t.Errorf("expected random partitioner to generate tokens in the same way as the reference"+
			" python client. Expected %s, but got %s", expect, actual)
	}
}

func TestRandomToken(t *testing.T) {
	if ((*randomToken)(big.NewInt(42))).Less((*randomToken)(big.NewInt(42))) {
		t.Errorf("Expected Less to return false, but was true")
	}
	if !((*randomToken)(big.NewInt(41))).Less((*randomToken)(big.NewInt(42))) {
		t.Errorf("Expected Less to return true, but was false")
	}
	if ((*randomToken)(big.NewInt(42))).Less((*randomToken)(big.NewInt(41))) {
		t.Errorf("Expected Less to return false, but was true")
	}
}

func TestNewPartitioner(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"org.apache.cassandra.dht.Murmur3Partitioner", "Murmur3Partitioner"},
		{"org.apache.cassandra.dht.RandomPartitioner", "RandomPartitioner"},
		{"org.apache.cassandra.dht.ByteOrderedPartitioner", "OrderedPartitioner"},
		{"org.apache.cassandra.dht.OrderPreservingPartitioner", "OrderedPartitioner"},
	}
	for _, test := range tests {
		p, err := NewPartitioner(test.name)
		if err != nil {
			t.Fatalf("%s: %v", test.name, err)
		}
		assertEqual(t, test.name, test.want, p.Name())
	}

	_, err := NewPartitioner("UnknownPartitioner")
	assertTrue(t, "ErrUnsupportedPartitioner", errors.Is(err, ErrUnsupportedPartitioner))
}

type intToken int

func (i intToken) String() string        { return strconv.Itoa(int(i)) }
func (i intToken) Less(token Token) bool { return i < token.(intToken) }

// Token ring lookups based on the example at
// http://www.datastax.com/docs/0.8/cluster_architecture/partitioning
func TestTokenRing_Int(t *testing.T) {
	host0 := &HostInfo{}
	host25 := &HostInfo{}
	host50 := &HostInfo{}
	host75 := &HostInfo{}
	// out of order to test sorting
	ring := tokenRing{
		{intToken(0), host0},
		{intToken(50), host50},
		{intToken(75), host75},
		{intToken(25), host25},
	}
	sort.Sort(ring)

	tests := []struct {
		token int
		host  *HostInfo
		end   int
	}{
		{0, host0, 0},
		{1, host25, 25},
		{24, host25, 25},
		{25, host25, 25},
		{26, host50, 50},
		{49, host50, 50},
		{50, host50, 50},
		{51, host75, 75},
		{74, host75, 75},
		{75, host75, 75},
		{76, host0, 0},
		{99, host0, 0},
		{100, host0, 0},
	}
	for _, test := range tests {
		owner := ring[ring.search(intToken(test.token))]
		if owner.Host != test.host || owner.Token != intToken(test.end) {
			t.Errorf("Expected end token %d for token %d but was %v", test.end, test.token, owner.Token)
		}
	}
}

func TestBuildTokenRing_Deduplicates(t *testing.T) {
	a := testHost("10.0.0.1", "dc1", "r1", "10", "30")
	b := testHost("10.0.0.2", "dc1", "r1", "20", "30")

	ring, dups := buildTokenRing(Murmur3Partitioner{}, []*HostInfo{a, b})

	assertEqual(t, "ring size", 3, len(ring))
	assertEqual(t, "duplicates", 1, len(dups))
	assertEqual(t, "first owner wins", a, ring[2].Host)
	assertEqual(t, "dropped owner", b, dups[0].Host)
	assertEqual(t, "ring", "10 20 30", ring[0].Token.String()+" "+ring[1].Token.String()+" "+ring[2].Token.String())
}

func TestBuildTokenRing_Murmur3(t *testing.T) {
	// tokens are parsed as int64, not hashed
	hosts := []*HostInfo{
		testHost("1.1.1.1", "dc1", "r1", "-100"),
		testHost("1.1.1.2", "dc1", "r1", "0"),
		testHost("1.1.1.3", "dc1", "r1", "100"),
	}
	ring, _ := buildTokenRing(Murmur3Partitioner{}, hosts)
	p := Murmur3Partitioner{}

	assertEqual(t, "token -101", hosts[0], ring[ring.search(p.ParseString("-101"))].Host)
	assertEqual(t, "token -100", hosts[0], ring[ring.search(p.ParseString("-100"))].Host)
	assertEqual(t, "token 12", hosts[2], ring[ring.search(p.ParseString("12"))].Host)
	assertEqual(t, "token 24324545443332", hosts[0], ring[ring.search(p.ParseString("24324545443332"))].Host)
}
