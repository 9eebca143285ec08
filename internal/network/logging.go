package network

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogConnect logs a peer connection being established.
func LogConnect(logger logrus.FieldLogger, id uuid.UUID, remoteAddr string) {
	logger.WithFields(logrus.Fields{
		"conn":   id,
		"remote": remoteAddr,
	}).Info("peer connected")
}

// LogDisconnect logs a peer going away, with the cause if there was one.
func LogDisconnect(logger logrus.FieldLogger, id uuid.UUID, remoteAddr string, err error) {
	fields := logrus.Fields{
		"conn":   id,
		"remote": remoteAddr,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("peer disconnected")
}
