package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
)

func TestSessionState_InitiallyEmpty(t *testing.T) {
	s := NewSessionState()
	assert.False(t, s.Ready())
	_, ok := s.Record()
	assert.False(t, ok)
	assert.Empty(t, s.Subject())
}

func TestSessionState_ReadyFlipsExactlyOnce(t *testing.T) {
	s := NewSessionState()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		flipped int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.resolve("", nil)
			if s.markReady() {
				mu.Lock()
				flipped++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, flipped)
	assert.True(t, s.Ready())

	s.resolve("u1", nil)
	assert.False(t, s.markReady())
	assert.True(t, s.Ready())
}

func TestSessionState_RecordIsCopied(t *testing.T) {
	s := NewSessionState()
	rec := &domainauth.AuthorizationRecord{UID: "u1", Role: domainauth.RoleAdmin, Approved: true}
	s.resolve("u1", rec)

	rec.Role = domainauth.RoleResident
	got, ok := s.Record()
	require.True(t, ok)
	assert.Equal(t, domainauth.RoleAdmin, got.Role)
	assert.Equal(t, "u1", s.Subject())

	s.resolve("", nil)
	_, ok = s.Record()
	assert.False(t, ok)
}

func TestSessionState_WaitReady(t *testing.T) {
	s := NewSessionState()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.WaitReady(ctx), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- s.WaitReady(context.Background()) }()
	s.resolve("", nil)
	s.markReady()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitReady did not return after markReady")
	}
}

func TestSessionState_WaitSettledFollowsSubject(t *testing.T) {
	s := NewSessionState()
	s.resolve("", nil)
	s.markReady()

	// Ready but about nobody: waiting for u1 must block.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.WaitSettled(ctx, "u1"), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- s.WaitSettled(context.Background(), "u1") }()

	s.resolve("u2", nil)
	select {
	case <-done:
		t.Fatal("WaitSettled returned for the wrong subject")
	case <-time.After(20 * time.Millisecond):
	}

	s.resolve("u1", &domainauth.AuthorizationRecord{UID: "u1", Role: domainauth.RoleResident})
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitSettled did not return once u1 resolved")
	}

	assert.NoError(t, s.WaitSettled(context.Background(), "u1"))
}

func TestSessionState_WaitSettledBeforeReady(t *testing.T) {
	s := NewSessionState()

	done := make(chan error, 1)
	go func() { done <- s.WaitSettled(context.Background(), "") }()

	s.resolve("", nil)
	s.markReady()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitSettled did not return after first resolution")
	}
}
