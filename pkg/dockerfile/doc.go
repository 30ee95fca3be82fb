// Copyright 2023 The TrainDB-ML Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dockerfile generates the container file and pinned requirements
// for a Python model training or serving script.
//
// The source file is picked from the build directory, honoring
// .dockerignore. main.py is preferred, then app.py, otherwise the last
// candidate in lexical order. Requirements are captured with pip freeze.
//
// The generated Dockerfile has the form:
//
//	FROM python:3.8-slim
//
//	COPY requirements.txt /app/
//
//	COPY train.py /app/
//
//	RUN pip install --no-cache-dir -r /app/requirements.txt
//
//	CMD ["python", "/app/train.py"]
package dockerfile
