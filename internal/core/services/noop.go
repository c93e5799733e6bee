package services

import (
	"time"

	"skillhub/internal/core/domain"
)

type nopNotifier struct{}

func (nopNotifier) Notify(domain.NotificationLevel, string) {}

type nopMetrics struct{}

func (nopMetrics) MessageReceived()                 {}
func (nopMetrics) DuplicateDropped()                {}
func (nopMetrics) MessageSent()                     {}
func (nopMetrics) CallStarted(domain.CallDirection) {}
func (nopMetrics) CallEnded(bool, time.Duration)    {}
func (nopMetrics) ICECandidateDropped()             {}
func (nopMetrics) SignalingError(string)            {}
