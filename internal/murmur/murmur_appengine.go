//go:build appengine
// +build appengine

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

package murmur

import "encoding/binary"

func getBlock(data []byte, n int) (int64, int64) {
	k1 := int64(binary.LittleEndian.Uint64(data[n*16:]))
	k2 := int64(binary.LittleEndian.Uint64(data[(n*16)+8:]))
	return k1, k2
}
