//go:build all || unit
// +build all unit

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
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCluster is a three node single datacenter cluster answering on
// system.peers only.
type testCluster struct {
	conn      *fakeConn
	peers     []map[string]interface{}
	keyspaces []map[string]interface{}
}

func newTestCluster() *testCluster {
	c := &testCluster{conn: newFakeConn("127.0.0.1")}
	c.conn.on(qrySystemLocal, []map[string]interface{}{localRow("dc1", "r1", "-100")}, nil)
	c.conn.on(qrySystemPeersV2, nil, errPeersV2Unsupported)
	c.setPeers(
		peerRow("127.0.0.2", "dc1", "r1", "0"),
		peerRow("127.0.0.3", "dc1", "r1", "100"),
	)
	c.setKeyspaces(
		keyspaceRow("ks_simple", map[string]string{"class": SimpleStrategyClass, "replication_factor": "2"}),
		keyspaceRow("ks_nts", map[string]string{"class": NetworkTopologyStrategyClass, "dc1": "3"}),
		keyspaceRow("ks_custom", map[string]string{"class": "com.example.CustomStrategy"}),
	)
	return c
}

func (c *testCluster) setPeers(rows ...map[string]interface{}) {
	c.peers = rows
	c.conn.on(qrySystemPeers, rows, nil)
}

func (c *testCluster) setKeyspaces(rows ...map[string]interface{}) {
	c.keyspaces = rows
	c.conn.on(qrySchemaKeyspaces, rows, nil)
}

func newTestMetadata(t *testing.T, conn Conn, configure func(*Config)) *Metadata {
	t.Helper()
	cfg := NewConfig()
	cfg.RefreshDebounce = 10 * time.Millisecond
	cfg.LogLevel = LogLevelNone
	if configure != nil {
		configure(cfg)
	}
	m, err := NewMetadata(cfg, StaticControl(conn))
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func countQueries(conn *fakeConn, stmt string) int {
	n := 0
	for _, q := range conn.Queries() {
		if q == stmt {
			n++
		}
	}
	return n
}

func TestNewMetadata_InvalidConfig(t *testing.T) {
	cfg := NewConfig()
	cfg.Port = -1
	_, err := NewMetadata(cfg, StaticControl(nil))
	assert.Error(t, err)
}

func TestMetadata_Init(t *testing.T) {
	cluster := newTestCluster()
	observer := &recordingObserver{}
	listener := &recordingListener{}
	logger := &testLogger{}
	m := newTestMetadata(t, cluster.conn, func(cfg *Config) {
		cfg.RefreshObserver = observer
		cfg.HostListener = listener
		cfg.Logger = logger
		cfg.LogLevel = LogLevelWarn
	})

	require.NoError(t, m.Init(context.Background()))

	assert.Equal(t, "Test Cluster", m.ClusterName())
	assert.Equal(t, "org.apache.cassandra.dht.Murmur3Partitioner", m.Partitioner())
	assert.Equal(t, []string{"127.0.0.1:9042", "127.0.0.2:9042", "127.0.0.3:9042"}, endpoints(m.Hosts()))
	assert.Equal(t, []string{"ks_custom", "ks_nts", "ks_simple"}, m.Keyspaces())
	assert.ElementsMatch(t, []string{"added 127.0.0.1:9042", "added 127.0.0.2:9042", "added 127.0.0.3:9042"}, listener.all())

	tm := m.TokenMap()
	assert.EqualValues(t, 1, tm.Generation())
	assert.Equal(t, 3, tm.HostCountWithTokens())
	// keyspaces with an unknown strategy are not bound
	assert.Equal(t, []string{"ks_nts", "ks_simple"}, tm.Keyspaces())
	assert.Contains(t, logger.String(), "unsupported replication strategy")

	assert.Equal(t, 2, m.GetReplicas("ks_simple", []byte("key")).Len())
	assert.Equal(t, 3, m.GetReplicas("ks_nts", []byte("key")).Len())
	assert.Equal(t, 0, m.GetReplicas("ks_custom", []byte("key")).Len())

	ks, err := m.Keyspace("ks_custom")
	require.NoError(t, err)
	assert.Nil(t, ks.Strategy)
	_, err = m.Keyspace("missing")
	assert.ErrorIs(t, err, ErrKeyspaceNotFound)

	observed := observer.all()
	require.Len(t, observed, 1)
	assert.Equal(t, RefreshSchema, observed[0].Kind)
	assert.True(t, observed[0].TokenMapRebuilt)
	assert.Equal(t, 3, observed[0].Hosts)
	assert.EqualValues(t, 1, observed[0].Generation)
	assert.NoError(t, observed[0].Err)
}

func TestMetadata_InitWithoutControl(t *testing.T) {
	m := newTestMetadata(t, nil, nil)
	assert.ErrorIs(t, m.Init(context.Background()), ErrNoControl)
	assert.Empty(t, m.Hosts())
	assert.EqualValues(t, 0, m.TokenMap().Generation())
}

func TestMetadata_InitSyncDisabled(t *testing.T) {
	cluster := newTestCluster()
	m := newTestMetadata(t, cluster.conn, func(cfg *Config) {
		cfg.MetadataSyncEnabled = false
	})

	require.NoError(t, m.Init(context.Background()))

	assert.Zero(t, countQueries(cluster.conn, qrySchemaKeyspaces))
	assert.Empty(t, m.Keyspaces())
	tm := m.TokenMap()
	assert.EqualValues(t, 1, tm.Generation())
	assert.Len(t, tm.Ring(), 3)
	assert.Empty(t, tm.Keyspaces())
}

func TestMetadata_SyncDisabledKeepsSnapshot(t *testing.T) {
	cluster := newTestCluster()
	cluster.setKeyspaces(
		keyspaceRow("ks1", map[string]string{"class": SimpleStrategyClass, "replication_factor": "2"}),
	)
	m := newTestMetadata(t, cluster.conn, func(cfg *Config) {
		cfg.MetadataSyncEnabled = false
	})
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))
	before := m.TokenMap()

	require.NoError(t, m.RefreshKeyspace(ctx, "ks1"))
	assert.Same(t, before, m.TokenMap())
	assert.Equal(t, before.Generation(), m.TokenMap().Generation())
	assert.Equal(t, []string{"ks1"}, before.Keyspaces())

	// a ring change is not published while sync is disabled
	cluster.setPeers(append(cluster.peers, peerRow("127.0.0.4", "dc1", "r1", "200"))...)
	require.NoError(t, m.RefreshTopology(ctx))
	assert.Len(t, m.Hosts(), 4)
	assert.Same(t, before, m.TokenMap())

	require.NoError(t, m.RefreshSchema(ctx))
	after := m.TokenMap()
	assert.NotSame(t, before, after)
	assert.Greater(t, after.Generation(), before.Generation())
	assert.Equal(t, 4, after.HostCountWithTokens())
	assert.Equal(t, 3, before.HostCountWithTokens(), "old snapshot must stay intact")
}

func TestMetadata_RefreshKeyspace(t *testing.T) {
	cluster := newTestCluster()
	m := newTestMetadata(t, cluster.conn, nil)
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))
	tm := m.TokenMap()
	require.Equal(t, 2, tm.GetReplicas("ks_simple", []byte("key")).Len())

	t.Run("rebind", func(t *testing.T) {
		cluster.setKeyspaces(
			keyspaceRow("ks_simple", map[string]string{"class": SimpleStrategyClass, "replication_factor": "3"}),
			keyspaceRow("ks_nts", map[string]string{"class": NetworkTopologyStrategyClass, "dc1": "3"}),
		)
		require.NoError(t, m.RefreshKeyspace(ctx, "ks_simple"))

		assert.Same(t, tm, m.TokenMap())
		assert.Equal(t, 3, tm.GetReplicas("ks_simple", []byte("key")).Len())
		strategy, ok := tm.Strategy("ks_simple")
		require.True(t, ok)
		assert.True(t, strategy.Equal(&SimpleStrategy{ReplicationFactor: mustRF(t, "3")}))
	})

	t.Run("drop", func(t *testing.T) {
		cluster.setKeyspaces(
			keyspaceRow("ks_nts", map[string]string{"class": NetworkTopologyStrategyClass, "dc1": "3"}),
		)
		require.NoError(t, m.RefreshKeyspace(ctx, "ks_simple"))

		assert.Same(t, tm, m.TokenMap())
		_, ok := tm.Strategy("ks_simple")
		assert.False(t, ok)
		assert.Equal(t, 0, tm.GetReplicas("ks_simple", []byte("key")).Len())
		_, err := m.Keyspace("ks_simple")
		assert.ErrorIs(t, err, ErrKeyspaceNotFound)
	})

	t.Run("create", func(t *testing.T) {
		cluster.setKeyspaces(append(cluster.keyspaces,
			keyspaceRow("ks_new", map[string]string{"class": SimpleStrategyClass, "replication_factor": "1"}))...)
		require.NoError(t, m.RefreshKeyspace(ctx, "ks_new"))

		assert.Same(t, tm, m.TokenMap())
		assert.Equal(t, 1, tm.GetReplicas("ks_new", []byte("key")).Len())
	})
}

func TestMetadata_SchemaChangeEvents(t *testing.T) {
	cluster := newTestCluster()
	m := newTestMetadata(t, cluster.conn, nil)
	require.NoError(t, m.Init(context.Background()))
	tm := m.TokenMap()

	cluster.setKeyspaces(
		keyspaceRow("ks_simple", map[string]string{"class": SimpleStrategyClass, "replication_factor": "1"}),
	)
	m.HandleEvent(SchemaChangeEvent{Change: "UPDATED", Target: SchemaTargetTable, Keyspace: "ks_simple", Object: "tbl"})
	m.HandleEvent(SchemaChangeEvent{Change: "UPDATED", Target: SchemaTargetKeyspace, Keyspace: "ks_simple"})

	assert.Eventually(t, func() bool {
		return tm.GetReplicas("ks_simple", []byte("key")).Len() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Same(t, tm, m.TokenMap())
	assert.Equal(t, 1, countQueries(cluster.conn, qrySchemaKeyspace), "table changes must not refresh the keyspace")
}

func TestMetadata_SchemaChangeEventsSyncDisabled(t *testing.T) {
	cluster := newTestCluster()
	logger := &testLogger{}
	m := newTestMetadata(t, cluster.conn, func(cfg *Config) {
		cfg.MetadataSyncEnabled = false
		cfg.Logger = logger
		cfg.LogLevel = LogLevelDebug
	})
	require.NoError(t, m.Init(context.Background()))

	m.HandleEvent(SchemaChangeEvent{Change: "CREATED", Target: SchemaTargetKeyspace, Keyspace: "ks_simple"})

	assert.Zero(t, countQueries(cluster.conn, qrySchemaKeyspace))
	assert.Empty(t, m.TokenMap().Keyspaces())
	assert.Contains(t, logger.String(), "metadata sync is disabled")
}

func TestMetadata_RefreshTopology(t *testing.T) {
	cluster := newTestCluster()
	observer := &recordingObserver{}
	listener := &recordingListener{}
	m := newTestMetadata(t, cluster.conn, func(cfg *Config) {
		cfg.RefreshObserver = observer
		cfg.HostListener = listener
	})
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))
	before := m.TokenMap()

	t.Run("unchanged ring", func(t *testing.T) {
		require.NoError(t, m.RefreshTopology(ctx))
		assert.Same(t, before, m.TokenMap())

		observed := observer.all()
		last := observed[len(observed)-1]
		assert.Equal(t, RefreshTopology, last.Kind)
		assert.False(t, last.TokenMapRebuilt)
		assert.False(t, last.PeersV2)
	})

	t.Run("moved token", func(t *testing.T) {
		cluster.setPeers(
			peerRow("127.0.0.2", "dc1", "r1", "0"),
			peerRow("127.0.0.3", "dc1", "r1", "150"),
		)
		require.NoError(t, m.RefreshTopology(ctx))

		after := m.TokenMap()
		assert.NotSame(t, before, after)
		assert.Equal(t, before.Generation()+1, after.Generation())
		// keyspace bindings carry over to the new snapshot
		assert.Equal(t, before.Keyspaces(), after.Keyspaces())
		before = after

		observed := observer.all()
		assert.True(t, observed[len(observed)-1].TokenMapRebuilt)
	})

	t.Run("removed host", func(t *testing.T) {
		cluster.setPeers(peerRow("127.0.0.2", "dc1", "r1", "0"))
		require.NoError(t, m.RefreshTopology(ctx))

		assert.Equal(t, []string{"127.0.0.1:9042", "127.0.0.2:9042"}, endpoints(m.Hosts()))
		assert.Contains(t, listener.all(), "removed 127.0.0.3:9042")
		assert.Equal(t, 2, m.TokenMap().HostCountWithTokens())
		_, ok := m.GetHost("127.0.0.3:9042")
		assert.False(t, ok)
	})
}

func TestMetadata_TopologyChangeEvent(t *testing.T) {
	cluster := newTestCluster()
	m := newTestMetadata(t, cluster.conn, nil)
	require.NoError(t, m.Init(context.Background()))

	cluster.setPeers(append(cluster.peers, peerRow("127.0.0.4", "dc1", "r1", "200"))...)
	m.HandleEvent(TopologyChangeEvent{Change: "NEW_NODE", Host: net.ParseIP("127.0.0.4"), Port: 9042})

	assert.Eventually(t, func() bool {
		return m.TokenMap().HostCountWithTokens() == 4
	}, time.Second, 5*time.Millisecond)
	_, ok := m.GetHost("127.0.0.4:9042")
	assert.True(t, ok)
}

func TestMetadata_StatusChangeEvents(t *testing.T) {
	cluster := newTestCluster()
	listener := &recordingListener{}
	m := newTestMetadata(t, cluster.conn, func(cfg *Config) {
		cfg.HostListener = listener
	})
	require.NoError(t, m.Init(context.Background()))
	host, ok := m.GetHost("127.0.0.2:9042")
	require.True(t, ok)
	require.True(t, host.IsUp())

	m.HandleEvent(StatusChangeEvent{Change: "DOWN", Host: net.ParseIP("127.0.0.2"), Port: 9042})
	assert.False(t, host.IsUp())
	m.HandleEvent(StatusChangeEvent{Change: "DOWN", Host: net.ParseIP("127.0.0.2"), Port: 9042})
	m.HandleEvent(StatusChangeEvent{Change: "UP", Host: net.ParseIP("127.0.0.2"), Port: 9042})
	assert.True(t, host.IsUp())

	events := listener.all()
	assert.Equal(t, []string{"down 127.0.0.2:9042", "up 127.0.0.2:9042"}, events[len(events)-2:])

	// an unknown node coming up triggers a topology refresh
	cluster.setPeers(append(cluster.peers, peerRow("127.0.0.5", "dc1", "r1", "300"))...)
	m.HandleEvent(StatusChangeEvent{Change: "UP", Host: net.ParseIP("127.0.0.5"), Port: 9042})
	assert.Eventually(t, func() bool {
		_, ok := m.GetHost("127.0.0.5:9042")
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, m.MarkHostDown("127.0.0.9:9042"), ErrCannotFindHost)
}

func TestMetadata_StatusChangeEventTranslated(t *testing.T) {
	cluster := newTestCluster()
	translator, err := StaticAddressTranslator(map[string]string{"127.0.0.2": "10.0.0.2:19042"})
	require.NoError(t, err)
	m := newTestMetadata(t, cluster.conn, func(cfg *Config) {
		cfg.AddressTranslator = translator
	})
	require.NoError(t, m.Init(context.Background()))

	host, ok := m.GetHost("10.0.0.2:19042")
	require.True(t, ok)
	m.HandleEvent(StatusChangeEvent{Change: "DOWN", Host: net.ParseIP("127.0.0.2"), Port: 9042})
	assert.False(t, host.IsUp())
}

func TestMetadata_FailedRefreshKeepsState(t *testing.T) {
	errTimeout := errors.New("request timeout")
	cluster := newTestCluster()
	observer := &recordingObserver{}
	m := newTestMetadata(t, cluster.conn, func(cfg *Config) {
		cfg.RefreshObserver = observer
	})
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))
	before := m.TokenMap()

	t.Run("peers query", func(t *testing.T) {
		cluster.conn.on(qrySystemPeers, nil, errTimeout)
		defer cluster.setPeers(cluster.peers...)

		assert.ErrorIs(t, m.RefreshSchema(ctx), errTimeout)
		assert.ErrorIs(t, m.RefreshTopology(ctx), errTimeout)
		assert.Same(t, before, m.TokenMap())
		assert.Len(t, m.Hosts(), 3)

		observed := observer.all()
		assert.ErrorIs(t, observed[len(observed)-1].Err, errTimeout)
	})

	t.Run("malformed replication factor", func(t *testing.T) {
		keyspaces := cluster.keyspaces
		cluster.setKeyspaces(append(keyspaces,
			keyspaceRow("ks_bad", map[string]string{"class": SimpleStrategyClass, "replication_factor": "three"}))...)
		defer cluster.setKeyspaces(keyspaces...)

		assert.ErrorIs(t, m.RefreshSchema(ctx), ErrInvalidReplicationFactor)
		assert.Same(t, before, m.TokenMap())
		assert.Equal(t, []string{"ks_custom", "ks_nts", "ks_simple"}, m.Keyspaces())
	})

	t.Run("unknown partitioner", func(t *testing.T) {
		local := localRow("dc1", "r1", "-100")
		local["partitioner"] = "org.apache.cassandra.dht.LocalPartitioner"
		cluster.conn.on(qrySystemLocal, []map[string]interface{}{local}, nil)

		assert.ErrorIs(t, m.RefreshSchema(ctx), ErrUnsupportedPartitioner)
		assert.Same(t, before, m.TokenMap())
	})
}

// gatedConn blocks system.local queries until released.
type gatedConn struct {
	*fakeConn
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (c *gatedConn) Query(ctx context.Context, stmt string, values ...interface{}) ([]map[string]interface{}, error) {
	if stmt == qrySystemLocal {
		c.calls.Add(1)
		select {
		case c.entered <- struct{}{}:
		default:
		}
		<-c.release
	}
	return c.fakeConn.Query(ctx, stmt, values...)
}

func TestMetadata_RefreshSchemaCoalesced(t *testing.T) {
	cluster := newTestCluster()
	conn := &gatedConn{
		fakeConn: cluster.conn,
		entered:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	m := newTestMetadata(t, conn, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	refresh := func() {
		defer wg.Done()
		errs <- m.RefreshSchema(ctx)
	}

	wg.Add(1)
	go refresh()
	<-conn.entered

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go refresh()
	}
	// let the late callers join the running refresh
	time.Sleep(50 * time.Millisecond)
	close(conn.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, conn.calls.Load())
	assert.EqualValues(t, 1, m.TokenMap().Generation())
}

func TestMetadata_RefreshWaitBoundedByContext(t *testing.T) {
	cluster := newTestCluster()
	conn := &gatedConn{
		fakeConn: cluster.conn,
		entered:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	m := newTestMetadata(t, conn, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.RefreshSchema(ctx), context.DeadlineExceeded)

	// the refresh itself keeps running and completes
	close(conn.release)
	assert.Eventually(t, func() bool {
		return m.TokenMap().Generation() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMetadata_Close(t *testing.T) {
	cluster := newTestCluster()
	m := newTestMetadata(t, cluster.conn, nil)
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))
	tm := m.TokenMap()

	m.Close()
	m.Close()

	assert.ErrorIs(t, m.Init(ctx), ErrMetadataClosed)
	assert.ErrorIs(t, m.RefreshTopology(ctx), ErrMetadataClosed)
	assert.ErrorIs(t, m.RefreshSchema(ctx), ErrMetadataClosed)
	assert.ErrorIs(t, m.RefreshKeyspace(ctx, "ks_simple"), ErrMetadataClosed)

	cluster.conn.resetQueries()
	m.HandleEvent(SchemaChangeEvent{Change: "UPDATED", Target: SchemaTargetKeyspace, Keyspace: "ks_simple"})
	m.HandleEvent(TopologyChangeEvent{Change: "NEW_NODE", Host: net.ParseIP("127.0.0.4"), Port: 9042})
	assert.Empty(t, cluster.conn.Queries())

	// readers keep working on the last snapshot
	assert.Same(t, tm, m.TokenMap())
	assert.Equal(t, 2, m.GetReplicas("ks_simple", []byte("key")).Len())
}
