package store

import (
	"sync"
	"time"

	"github.com/casdoc/casdoc/config"
	"github.com/casdoc/casdoc/tools"
	"github.com/gocql/gocql"
)

// SessionCache holds one store session per tenant token, evicting sessions
// that have been idle past the configured TTL.
type SessionCache struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
	ttl     time.Duration
	done    chan struct{}

	// newSession is a test seam; production uses gocql.
	newSession func(token string) (*gocql.Session, error)
}

type sessionEntry struct {
	session  *gocql.Session
	lastUsed time.Time
}

// NewSessionCache builds the cache and starts its idle evictor.
func NewSessionCache() *SessionCache {
	c := &SessionCache{
		entries:    map[string]*sessionEntry{},
		ttl:        time.Duration(config.Cfg.SessionTTL) * time.Second,
		done:       make(chan struct{}),
		newSession: dialSession,
	}
	go c.evictLoop()
	return c
}

func dialSession(token string) (*gocql.Session, error) {
	cluster := gocql.NewCluster(config.Cfg.ContactPoints...)
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = time.Duration(config.Cfg.RequestTimeout) * time.Second
	if token != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: "token",
			Password: token,
		}
	}
	return cluster.CreateSession()
}

// Get returns the session for a tenant token, dialing one on first use.
func (c *SessionCache) Get(token string) (*gocql.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[token]; ok {
		e.lastUsed = time.Now()
		return e.session, nil
	}
	session, err := c.newSession(token)
	if err != nil {
		tools.Logger.Error("session dial failed", "error", err.Error())
		return nil, tools.NewError(tools.CodeServerBusy, "could not reach the data store")
	}
	c.entries[token] = &sessionEntry{session: session, lastUsed: time.Now()}
	return session, nil
}

func (c *SessionCache) evictLoop() {
	interval := c.ttl
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictIdle()
		}
	}
}

func (c *SessionCache) evictIdle() {
	if c.ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	for token, e := range c.entries {
		if e.lastUsed.Before(cutoff) {
			e.session.Close()
			delete(c.entries, token)
		}
	}
}

// Close shuts the evictor down and closes every cached session.
func (c *SessionCache) Close() {
	close(c.done)
	c.mu.Lock()
	defer c.mu.Unlock()
	for token, e := range c.entries {
		e.session.Close()
		delete(c.entries, token)
	}
}
