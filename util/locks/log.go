// Copyright (c) 2024 The pollinet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package locks

import (
	"github.com/pollinet/pollinet-sub003/logger"
)

var log, _ = logger.Get(logger.SubsystemTags.UTIL)
