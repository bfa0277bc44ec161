package music

import (
	"context"
	"log"
	"time"
)

// monitor polls the session for idleness and tears it down after the guild's
// auto-disconnect delay. It exits when the session ends for any reason, or
// silently when its configuration cannot be read.
func (m *Manager) monitor(ctx context.Context, sess *Session) {
	defer close(sess.done)

	for {
		if !m.sleep(ctx, m.pollInterval) {
			return
		}

		cfg, err := m.configs.GetGuildConfig(ctx, sess.GuildID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Idle] guild=%s config unreadable, monitor stopping: %v", sess.GuildID, err)
			return
		}
		if !cfg.AutoDisconnect {
			continue
		}

		idle, alive := m.checkIdle(ctx, sess)
		if !alive {
			return
		}
		if !idle {
			continue
		}

		delay := cfg.AutoDisconnectDelay()
		log.Printf("[Idle] guild=%s idle, disconnecting in %s unless activity resumes", sess.GuildID, delay)
		if !m.waitIdleDelay(ctx, sess.GuildID, delay) {
			return
		}
		if m.confirmIdle(ctx, sess) {
			return
		}
	}
}

// waitIdleDelay sleeps out the auto-disconnect delay. When the guild raises
// the delay during the wait, the difference is waited as well.
func (m *Manager) waitIdleDelay(ctx context.Context, guildID string, delay time.Duration) bool {
	var waited time.Duration
	for delay > waited {
		if !m.sleep(ctx, delay-waited) {
			return false
		}
		waited = delay

		cfg, err := m.configs.GetGuildConfig(ctx, guildID)
		if err != nil || !cfg.AutoDisconnect {
			// confirmIdle re-reads and decides.
			return true
		}
		delay = cfg.AutoDisconnectDelay()
	}
	return true
}

// sleep waits d on the manager's clock and reports false if ctx ended first.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	timer := m.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

// checkIdle reports whether sess is idle, and whether it is still the guild's session.
func (m *Manager) checkIdle(ctx context.Context, sess *Session) (idle, alive bool) {
	s := m.slot(sess.GuildID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != sess {
		return false, false
	}
	return m.idleLocked(ctx, sess), true
}

// idleLocked takes the current track from the node, not from the session.
func (m *Manager) idleLocked(ctx context.Context, sess *Session) bool {
	if sess.Queue.Count() > 0 {
		return false
	}
	playing, err := m.nodePlaying(ctx, sess.GuildID)
	if err != nil {
		log.Printf("[Idle] guild=%s player state unavailable: %v", sess.GuildID, err)
		return false
	}
	if playing {
		return false
	}
	if sess.current != nil {
		log.Printf("[Idle] guild=%s node reports no track, clearing stale current %q", sess.GuildID, sess.current.Track.Info.Title)
		sess.current = nil
	}
	for _, member := range m.voice.MembersInChannel(sess.GuildID, sess.VoiceChannelID) {
		if !member.Bot {
			return false
		}
	}
	return true
}

// confirmIdle re-checks every condition from scratch under the guild lock and
// tears down if they all still hold. It reports whether the monitor should exit.
func (m *Manager) confirmIdle(ctx context.Context, sess *Session) bool {
	s := m.slot(sess.GuildID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != sess {
		return true
	}
	cfg, err := m.configs.GetGuildConfig(ctx, sess.GuildID)
	if err != nil {
		log.Printf("[Idle] guild=%s config unreadable, monitor stopping: %v", sess.GuildID, err)
		return true
	}
	if !cfg.AutoDisconnect || !m.idleLocked(ctx, sess) {
		log.Printf("[Idle] guild=%s activity resumed, staying connected", sess.GuildID)
		return false
	}
	return m.teardownLocked(s, sess, "idle")
}
